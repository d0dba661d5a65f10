// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"

	"zombiezen.com/go/sqlite"
)

// requiredColumns lists what the queries in this package read. Every
// database kind shares the conductor's table definitions; columns a
// kind never fills are simply NULL there.
var requiredColumns = []struct {
	table   string
	columns []string
}{
	{"DhtOp", []string{
		"hash", "type", "basis_hash", "action_hash", "storage_center_loc",
		"authored_timestamp", "validation_status", "validation_stage",
		"when_integrated", "last_publish_time",
	}},
	{"Action", []string{"hash", "type", "seq", "author", "prev_hash", "entry_hash", "entry_type"}},
	{"Entry", []string{"hash", "blob", "tag"}},
}

func (h *Handle) verifySchema(ctx context.Context) error {
	for _, table := range requiredColumns {
		present := make(map[string]bool)
		err := h.query(ctx, `SELECT name FROM pragma_table_info(?)`, []any{table.table}, func(stmt *sqlite.Stmt) error {
			present[stmt.ColumnText(0)] = true
			return nil
		})
		if err != nil {
			return err
		}
		if len(present) == 0 {
			return h.fail(KindSchemaMismatch, "missing table "+table.table, nil)
		}
		for _, column := range table.columns {
			if !present[column] {
				return h.fail(KindSchemaMismatch, "table "+table.table+" has no column "+column, nil)
			}
		}
	}
	return nil
}

// hasTable reports whether the optional table exists.
func (h *Handle) hasTable(ctx context.Context, name string) (bool, error) {
	found := false
	err := h.query(ctx, `SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, []any{name}, func(*sqlite.Stmt) error {
		found = true
		return nil
	})
	return found, err
}
