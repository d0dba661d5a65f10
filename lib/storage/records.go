// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/hcops/lib/holohash"
)

// RecordSummary totals the records a database holds.
type RecordSummary struct {
	Actions       uint64            `json:"actions"`
	Entries       uint64            `json:"entries"`
	ActionsByType map[string]uint64 `json:"actions_by_type"`
	IntegratedOps uint64            `json:"integrated_ops"`
}

// RecordSummary counts actions (by type), entries and integrated ops.
func (h *Handle) RecordSummary(ctx context.Context) (RecordSummary, error) {
	summary := RecordSummary{ActionsByType: make(map[string]uint64)}
	err := h.query(ctx, `SELECT type, count(*) FROM Action GROUP BY type`, nil, func(stmt *sqlite.Stmt) error {
		count := uint64(stmt.ColumnInt64(1))
		summary.ActionsByType[stmt.ColumnText(0)] = count
		summary.Actions += count
		return nil
	})
	if err != nil {
		return RecordSummary{}, err
	}
	err = h.query(ctx, `SELECT count(*) FROM Entry`, nil, func(stmt *sqlite.Stmt) error {
		summary.Entries = uint64(stmt.ColumnInt64(0))
		return nil
	})
	if err != nil {
		return RecordSummary{}, err
	}
	err = h.query(ctx, `SELECT count(*) FROM DhtOp WHERE when_integrated IS NOT NULL`, nil, func(stmt *sqlite.Stmt) error {
		summary.IntegratedOps = uint64(stmt.ColumnInt64(0))
		return nil
	})
	if err != nil {
		return RecordSummary{}, err
	}
	return summary, nil
}

// Agents returns the distinct authors of AgentValidationPkg actions,
// sorted by text form. In a DHT database only actions whose op
// validated Valid count; elsewhere every such action counts.
func (h *Handle) Agents(ctx context.Context) ([]holohash.Hash, error) {
	query := `SELECT DISTINCT author FROM Action WHERE type = 'AgentValidationPkg'`
	if h.kind == DHT {
		query = `SELECT DISTINCT Action.author FROM Action
			JOIN DhtOp ON DhtOp.action_hash = Action.hash
			WHERE Action.type = 'AgentValidationPkg' AND DhtOp.validation_status = 0`
	}
	var agents []holohash.Hash
	err := h.query(ctx, query, nil, func(stmt *sqlite.Stmt) error {
		agent, err := h.hashColumn(stmt, 0, "Action.author")
		if err != nil {
			return err
		}
		agents = append(agents, agent)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(agents, func(a, b holohash.Hash) int { return strings.Compare(a.String(), b.String()) })
	return agents, nil
}

// Action is one row of the Action table.
type Action struct {
	Hash      holohash.Hash `json:"hash"`
	Type      string        `json:"type"`
	Seq       uint32        `json:"seq"`
	Author    holohash.Hash `json:"author"`
	PrevHash  holohash.Hash `json:"prev_hash,omitzero"`
	EntryHash holohash.Hash `json:"entry_hash,omitzero"`
	EntryType string        `json:"entry_type,omitempty"`
}

const actionColumns = `hash, type, seq, author, prev_hash, entry_hash, entry_type`

func (h *Handle) scanAction(stmt *sqlite.Stmt) (Action, error) {
	action := Action{
		Type:      stmt.ColumnText(1),
		Seq:       uint32(stmt.ColumnInt64(2)),
		EntryType: stmt.ColumnText(6),
	}
	var err error
	if action.Hash, err = h.hashColumn(stmt, 0, "Action.hash"); err != nil {
		return Action{}, err
	}
	if action.Author, err = h.hashColumn(stmt, 3, "Action.author"); err != nil {
		return Action{}, err
	}
	if action.PrevHash, err = h.hashColumn(stmt, 4, "Action.prev_hash"); err != nil {
		return Action{}, err
	}
	if action.EntryHash, err = h.hashColumn(stmt, 5, "Action.entry_hash"); err != nil {
		return Action{}, err
	}
	return action, nil
}

// Chain returns agent's actions ordered by sequence number.
func (h *Handle) Chain(ctx context.Context, agent holohash.Hash) ([]Action, error) {
	var chain []Action
	err := h.query(ctx, `SELECT `+actionColumns+` FROM Action WHERE author = ? ORDER BY seq, hash`,
		[]any{agent[:]},
		func(stmt *sqlite.Stmt) error {
			action, err := h.scanAction(stmt)
			if err != nil {
				return err
			}
			chain = append(chain, action)
			return nil
		})
	return chain, err
}

// Actions lists actions by author and sequence. A positive limit
// bounds the result.
func (h *Handle) Actions(ctx context.Context, limit int) ([]Action, error) {
	var actions []Action
	err := h.query(ctx, `SELECT `+actionColumns+` FROM Action ORDER BY author, seq, hash LIMIT ?`,
		[]any{sqlLimit(limit)},
		func(stmt *sqlite.Stmt) error {
			action, err := h.scanAction(stmt)
			if err != nil {
				return err
			}
			actions = append(actions, action)
			return nil
		})
	return actions, err
}

// Entry is one row of the Entry table, without its content.
type Entry struct {
	Hash holohash.Hash `json:"hash"`
	Size int           `json:"size"`
	Tag  string        `json:"tag,omitempty"`
}

// Entries lists entries by hash. A positive limit bounds the result.
func (h *Handle) Entries(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := h.query(ctx, `SELECT hash, length(blob), tag FROM Entry ORDER BY hash LIMIT ?`,
		[]any{sqlLimit(limit)},
		func(stmt *sqlite.Stmt) error {
			hash, err := h.hashColumn(stmt, 0, "Entry.hash")
			if err != nil {
				return err
			}
			entries = append(entries, Entry{Hash: hash, Size: stmt.ColumnInt(1), Tag: stmt.ColumnText(2)})
			return nil
		})
	return entries, err
}

// HexBytes is a byte string that renders as hex in JSON.
type HexBytes []byte

func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(b)), nil
}

func (b *HexBytes) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("slice hash: %w", err)
	}
	*b = decoded
	return nil
}

// SliceHash is the conductor's hash over the ops in one time slice of
// one arc, used to compare DHT contents between nodes.
type SliceHash struct {
	ArcStart   uint32   `json:"arc_start"`
	ArcEnd     uint32   `json:"arc_end"`
	SliceIndex uint64   `json:"slice_index"`
	Hash       HexBytes `json:"hash"`
}

// Compare orders slice hashes by slice index, then arc start.
func (s SliceHash) Compare(other SliceHash) int {
	switch {
	case s.SliceIndex != other.SliceIndex:
		if s.SliceIndex < other.SliceIndex {
			return -1
		}
		return 1
	case s.ArcStart != other.ArcStart:
		if s.ArcStart < other.ArcStart {
			return -1
		}
		return 1
	case s.ArcEnd != other.ArcEnd:
		if s.ArcEnd < other.ArcEnd {
			return -1
		}
		return 1
	}
	return 0
}

// SliceHashes returns the rows of the SliceHash table, ordered by
// Compare. Conductors that have not computed any slice hashes may not
// have the table; that yields no rows.
func (h *Handle) SliceHashes(ctx context.Context) ([]SliceHash, error) {
	present, err := h.hasTable(ctx, "SliceHash")
	if err != nil || !present {
		return nil, err
	}
	var hashes []SliceHash
	err = h.query(ctx, `SELECT arc_start, arc_end, slice_index, hash FROM SliceHash`, nil, func(stmt *sqlite.Stmt) error {
		hash := make(HexBytes, stmt.ColumnLen(3))
		stmt.ColumnBytes(3, hash)
		hashes = append(hashes, SliceHash{
			ArcStart:   uint32(stmt.ColumnInt64(0)),
			ArcEnd:     uint32(stmt.ColumnInt64(1)),
			SliceIndex: uint64(stmt.ColumnInt64(2)),
			Hash:       hash,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(hashes, SliceHash.Compare)
	return hashes, nil
}
