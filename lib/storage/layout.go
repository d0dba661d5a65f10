// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bureau-foundation/hcops/lib/holohash"
)

// DatabaseKind names one of a cell's databases.
type DatabaseKind int

const (
	Authored DatabaseKind = iota + 1
	DHT
	Cache
)

func (k DatabaseKind) String() string {
	switch k {
	case Authored:
		return "authored"
	case DHT:
		return "dht"
	case Cache:
		return "cache"
	default:
		return fmt.Sprintf("DatabaseKind(%d)", int(k))
	}
}

// ParseDatabaseKind parses the String form.
func ParseDatabaseKind(text string) (DatabaseKind, error) {
	for _, kind := range []DatabaseKind{Authored, DHT, Cache} {
		if kind.String() == text {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown database kind %q (want authored, dht or cache)", text)
}

// hashTextSize is the length of a hash's text form: "u" plus unpadded
// base64url of 39 bytes.
const hashTextSize = 53

// Layout locates databases under a conductor data root.
type Layout struct {
	// Root is the conductor's data directory, the parent of databases/.
	Root string
}

// DatabasesDir returns <root>/databases.
func (l Layout) DatabasesDir() string {
	return filepath.Join(l.Root, "databases")
}

// KeyFile returns the path of the database key file.
func (l Layout) KeyFile() string {
	return filepath.Join(l.DatabasesDir(), "db.key")
}

// Path returns the file holding the kind database for cell. DHT and
// cache databases are per DNA and shared by every agent running it.
func (l Layout) Path(kind DatabaseKind, cell holohash.CellID) string {
	switch kind {
	case Authored:
		return filepath.Join(l.DatabasesDir(), "authored", cell.DnaHash.String()+"-"+cell.AgentPubKey.String())
	case DHT:
		return filepath.Join(l.DatabasesDir(), "dht", cell.DnaHash.String())
	default:
		return filepath.Join(l.DatabasesDir(), "cache", cell.DnaHash.String())
	}
}

// Cells lists the cells that have an authored database on disk,
// ordered by DNA then agent. A data root without an authored
// directory has no cells.
func (l Layout) Cells() ([]holohash.CellID, error) {
	dir := filepath.Join(l.DatabasesDir(), "authored")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var cells []holohash.CellID
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || len(name) != 2*hashTextSize+1 || name[hashTextSize] != '-' {
			continue
		}
		dna, err := holohash.ParseKind(name[:hashTextSize], holohash.KindDna)
		if err != nil {
			continue
		}
		agent, err := holohash.ParseKind(name[hashTextSize+1:], holohash.KindAgent)
		if err != nil {
			continue
		}
		cells = append(cells, holohash.NewCellID(dna, agent))
	}
	slices.SortFunc(cells, func(a, b holohash.CellID) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return cells, nil
}
