// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/bureau-foundation/hcops/lib/holohash"
)

// Summary is a cell's storage at the moment it was read.
type Summary struct {
	Cell holohash.CellID `json:"cell_id"`

	// OpCounts are DHT op counts by validation state.
	OpCounts map[OpState]uint64 `json:"op_counts"`

	// RecordCount is the number of actions in the DHT database.
	RecordCount uint64 `json:"record_count"`

	// PeerCount is the number of distinct agents discovered across
	// the DHT and cache databases.
	PeerCount uint64 `json:"peer_count"`

	Records RecordSummary `json:"records"`

	// AuthoredOps are the cell's own ops by publish state. Nil when
	// the authored database is missing.
	AuthoredOps map[OpState]uint64 `json:"authored_ops,omitempty"`

	// Agents are the discovered agents counted by PeerCount.
	Agents []holohash.Hash `json:"agents"`

	// Missing lists optional databases that do not exist yet.
	Missing []DatabaseKind `json:"-"`
}

// Summarize reads the cell's DHT, cache and authored databases in turn,
// each handle closed before the next opens. The DHT database is
// required; a missing cache or authored database is recorded in
// Summary.Missing.
func Summarize(ctx context.Context, layout Layout, cell holohash.CellID, options Options) (*Summary, error) {
	summary := &Summary{Cell: cell}
	discovered := make(map[holohash.Hash]bool)

	err := withHandle(ctx, layout, cell, DHT, options, func(h *Handle) error {
		var err error
		if summary.OpCounts, err = h.OpCounts(ctx); err != nil {
			return err
		}
		if summary.Records, err = h.RecordSummary(ctx); err != nil {
			return err
		}
		summary.RecordCount = summary.Records.Actions
		return collectAgents(ctx, h, discovered)
	})
	if err != nil {
		return nil, err
	}

	err = withHandle(ctx, layout, cell, Cache, options, func(h *Handle) error {
		return collectAgents(ctx, h, discovered)
	})
	if errors.Is(err, ErrNotFound) {
		summary.Missing = append(summary.Missing, Cache)
	} else if err != nil {
		return nil, err
	}

	err = withHandle(ctx, layout, cell, Authored, options, func(h *Handle) error {
		var err error
		summary.AuthoredOps, err = h.OpCounts(ctx)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		summary.Missing = append(summary.Missing, Authored)
	} else if err != nil {
		return nil, err
	}

	for agent := range discovered {
		summary.Agents = append(summary.Agents, agent)
	}
	slices.SortFunc(summary.Agents, func(a, b holohash.Hash) int { return strings.Compare(a.String(), b.String()) })
	summary.PeerCount = uint64(len(summary.Agents))
	return summary, nil
}

func withHandle(ctx context.Context, layout Layout, cell holohash.CellID, kind DatabaseKind, options Options, fn func(*Handle) error) error {
	handle, err := Open(ctx, layout, cell, kind, options)
	if err != nil {
		return err
	}
	defer handle.Close()
	return fn(handle)
}

func collectAgents(ctx context.Context, h *Handle, into map[holohash.Hash]bool) error {
	agents, err := h.Agents(ctx)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		into[agent] = true
	}
	return nil
}
