// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/hcops/lib/holohash"
)

// OpState is where an op stands in validation and integration, or for
// authored ops, in publishing.
type OpState string

const (
	OpPending             OpState = "pending"
	OpAwaitingSysDeps     OpState = "awaiting_sys_deps"
	OpSysValidated        OpState = "sys_validated"
	OpAwaitingAppDeps     OpState = "awaiting_app_deps"
	OpAwaitingIntegration OpState = "awaiting_integration"
	OpIntegrated          OpState = "integrated"
	OpRejected            OpState = "rejected"
	OpAbandoned           OpState = "abandoned"

	OpAuthored  OpState = "authored"
	OpPublished OpState = "published"
)

// ValidationStates are the states counted in DHT and cache databases,
// in pipeline order.
var ValidationStates = []OpState{
	OpPending, OpAwaitingSysDeps, OpSysValidated, OpAwaitingAppDeps,
	OpAwaitingIntegration, OpIntegrated, OpRejected, OpAbandoned,
}

// AuthoredStates are the states counted in authored databases.
var AuthoredStates = []OpState{OpAuthored, OpPublished}

// States returns the states OpCounts reports for kind.
func States(kind DatabaseKind) []OpState {
	if kind == Authored {
		return AuthoredStates
	}
	return ValidationStates
}

// Stored codes for validation_stage, indexed by value.
var stageStates = []OpState{
	OpPending, OpAwaitingSysDeps, OpSysValidated, OpAwaitingAppDeps, OpAwaitingIntegration,
}

const (
	statusValid     = 0
	statusRejected  = 1
	statusAbandoned = 2
)

// validationState derives an op's state from its stored columns.
// Rejected and abandoned ops are terminal before integration too.
func validationState(stage, status *int64, integrated bool) (OpState, error) {
	if status != nil {
		switch *status {
		case statusValid:
			if integrated {
				return OpIntegrated, nil
			}
			return OpAwaitingIntegration, nil
		case statusRejected:
			return OpRejected, nil
		case statusAbandoned:
			return OpAbandoned, nil
		default:
			return "", fmt.Errorf("unknown validation_status %d", *status)
		}
	}
	if stage == nil {
		return OpPending, nil
	}
	if *stage < 0 || *stage >= int64(len(stageStates)) {
		return "", fmt.Errorf("unknown validation_stage %d", *stage)
	}
	return stageStates[*stage], nil
}

func nullableInt(stmt *sqlite.Stmt, column int) *int64 {
	if stmt.ColumnType(column) == sqlite.TypeNull {
		return nil
	}
	value := stmt.ColumnInt64(column)
	return &value
}

// OpCounts counts ops by state. Every state of the database's kind is
// present in the result, zero when no op is in it.
func (h *Handle) OpCounts(ctx context.Context) (map[OpState]uint64, error) {
	counts := make(map[OpState]uint64)
	for _, state := range States(h.kind) {
		counts[state] = 0
	}

	if h.kind == Authored {
		err := h.query(ctx,
			`SELECT last_publish_time IS NOT NULL, count(*) FROM DhtOp GROUP BY 1`, nil,
			func(stmt *sqlite.Stmt) error {
				state := OpAuthored
				if stmt.ColumnBool(0) {
					state = OpPublished
				}
				counts[state] += uint64(stmt.ColumnInt64(1))
				return nil
			})
		if err != nil {
			return nil, err
		}
		return counts, nil
	}

	err := h.query(ctx,
		`SELECT validation_stage, validation_status, when_integrated IS NOT NULL, count(*)
		 FROM DhtOp GROUP BY 1, 2, 3`, nil,
		func(stmt *sqlite.Stmt) error {
			state, err := validationState(nullableInt(stmt, 0), nullableInt(stmt, 1), stmt.ColumnBool(2))
			if err != nil {
				return h.fail(KindSchemaMismatch, "", err)
			}
			counts[state] += uint64(stmt.ColumnInt64(3))
			return nil
		})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Op is one row of the DhtOp table.
type Op struct {
	Hash             holohash.Hash `json:"hash"`
	Type             string        `json:"type"`
	BasisHash        holohash.Hash `json:"basis_hash"`
	ActionHash       holohash.Hash `json:"action_hash"`
	StorageCenterLoc uint32        `json:"storage_center_loc"`
	AuthoredAt       time.Time     `json:"authored_at"`
	State            OpState       `json:"state"`
	IntegratedAt     time.Time     `json:"integrated_at,omitzero"`
}

// Ops lists ops in authoring order. A positive limit bounds the result.
func (h *Handle) Ops(ctx context.Context, limit int) ([]Op, error) {
	var ops []Op
	err := h.query(ctx,
		`SELECT hash, type, basis_hash, action_hash, storage_center_loc, authored_timestamp,
		        validation_stage, validation_status, when_integrated, last_publish_time
		 FROM DhtOp ORDER BY authored_timestamp, hash LIMIT ?`,
		[]any{sqlLimit(limit)},
		func(stmt *sqlite.Stmt) error {
			op := Op{
				Type:             stmt.ColumnText(1),
				StorageCenterLoc: uint32(stmt.ColumnInt64(4)),
				AuthoredAt:       timestampColumn(stmt, 5),
				IntegratedAt:     timestampColumn(stmt, 8),
			}
			var err error
			if op.Hash, err = h.hashColumn(stmt, 0, "DhtOp.hash"); err != nil {
				return err
			}
			if op.BasisHash, err = h.hashColumn(stmt, 2, "DhtOp.basis_hash"); err != nil {
				return err
			}
			if op.ActionHash, err = h.hashColumn(stmt, 3, "DhtOp.action_hash"); err != nil {
				return err
			}
			if h.kind == Authored {
				op.State = OpAuthored
				if stmt.ColumnType(9) != sqlite.TypeNull {
					op.State = OpPublished
				}
			} else {
				op.State, err = validationState(nullableInt(stmt, 6), nullableInt(stmt, 7), stmt.ColumnType(8) != sqlite.TypeNull)
				if err != nil {
					return h.fail(KindSchemaMismatch, "", err)
				}
			}
			ops = append(ops, op)
			return nil
		})
	return ops, err
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit)
}
