// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoRecords is returned when a state dump has no source chain records.
var ErrNoRecords = errors.New("conductor: state dump has no source chain records")

// initCompleteAction is the action a cell commits once every zome's
// init callback has run.
const initCompleteAction = "InitZomesComplete"

// IsCellInitialized reports whether cell has committed its
// InitZomesComplete action.
func (c *AdminClient) IsCellInitialized(ctx context.Context, cell CellID) (bool, error) {
	dump, err := c.DumpState(ctx, cell)
	if err != nil {
		return false, err
	}
	initialized, err := stateDumpInitialized(dump)
	if err != nil {
		return false, fmt.Errorf("cell %s: %w", cell, err)
	}
	return initialized, nil
}

// stateDumpInitialized scans a dump_state result. The dump is a JSON
// array whose first element holds source_chain_dump.records.
func stateDumpInitialized(dump string) (bool, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal([]byte(dump), &tuple); err != nil {
		return false, fmt.Errorf("decoding state dump: %w", err)
	}
	if len(tuple) == 0 {
		return false, ErrNoRecords
	}

	var state struct {
		SourceChainDump *struct {
			Records *[]struct {
				Action struct {
					Type string `json:"type"`
				} `json:"action"`
			} `json:"records"`
		} `json:"source_chain_dump"`
	}
	if err := json.Unmarshal(tuple[0], &state); err != nil {
		return false, fmt.Errorf("decoding state dump: %w", err)
	}
	if state.SourceChainDump == nil || state.SourceChainDump.Records == nil {
		return false, ErrNoRecords
	}

	for _, record := range *state.SourceChainDump.Records {
		if record.Action.Type == initCompleteAction {
			return true, nil
		}
	}
	return false, nil
}
