// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inspect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/hcops/lib/storage"
)

// DiffKind classifies one slice hash difference.
type DiffKind string

const (
	OnlyOurs     DiffKind = "only_ours"
	OnlyTheirs   DiffKind = "only_theirs"
	HashesDiffer DiffKind = "different"
)

// SliceHashDiff is one differing (arc, slice index) position.
type SliceHashDiff struct {
	Kind       DiffKind         `json:"kind"`
	ArcStart   uint32           `json:"arc_start"`
	ArcEnd     uint32           `json:"arc_end"`
	SliceIndex uint64           `json:"slice_index"`
	Ours       storage.HexBytes `json:"ours,omitempty"`
	Theirs     storage.HexBytes `json:"theirs,omitempty"`
}

type sliceKey struct {
	start, end uint32
	index      uint64
}

func keyOf(hash storage.SliceHash) sliceKey {
	return sliceKey{hash.ArcStart, hash.ArcEnd, hash.SliceIndex}
}

// CompareSliceHashes diffs two nodes' slice hashes. Positions are
// matched on arc and slice index. The result is ordered by slice
// index, then arc start; an empty result means the dumps agree.
func CompareSliceHashes(ours, theirs []storage.SliceHash) []SliceHashDiff {
	theirByKey := make(map[sliceKey]storage.SliceHash, len(theirs))
	for _, hash := range theirs {
		theirByKey[keyOf(hash)] = hash
	}
	ourKeys := make(map[sliceKey]bool, len(ours))

	var diffs []SliceHashDiff
	for _, our := range ours {
		key := keyOf(our)
		ourKeys[key] = true
		diff := SliceHashDiff{ArcStart: our.ArcStart, ArcEnd: our.ArcEnd, SliceIndex: our.SliceIndex, Ours: our.Hash}
		their, found := theirByKey[key]
		switch {
		case !found:
			diff.Kind = OnlyOurs
		case !bytes.Equal(our.Hash, their.Hash):
			diff.Kind = HashesDiffer
			diff.Theirs = their.Hash
		default:
			continue
		}
		diffs = append(diffs, diff)
	}
	for _, their := range theirs {
		if ourKeys[keyOf(their)] {
			continue
		}
		diffs = append(diffs, SliceHashDiff{
			Kind: OnlyTheirs, ArcStart: their.ArcStart, ArcEnd: their.ArcEnd,
			SliceIndex: their.SliceIndex, Theirs: their.Hash,
		})
	}

	slices.SortStableFunc(diffs, func(a, b SliceHashDiff) int {
		return storage.SliceHash{ArcStart: a.ArcStart, ArcEnd: a.ArcEnd, SliceIndex: a.SliceIndex}.
			Compare(storage.SliceHash{ArcStart: b.ArcStart, ArcEnd: b.ArcEnd, SliceIndex: b.SliceIndex})
	})
	return diffs
}

// LoadSliceHashes reads a slice hash dump as written by
// "hcops explore slice-hashes --json". Comments and trailing commas
// are accepted so operators can annotate saved dumps.
func LoadSliceHashes(path string) ([]storage.SliceHash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading slice hashes: %w", err)
	}
	var hashes []storage.SliceHash
	if err := json.Unmarshal(jsonc.ToJSON(data), &hashes); err != nil {
		return nil, fmt.Errorf("parsing slice hashes from %s: %w", path, err)
	}
	return hashes, nil
}
