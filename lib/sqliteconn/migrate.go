// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqliteconn

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrNewerSchema is returned by Migrate when the database records a
// schema version beyond the migrations this binary knows.
var ErrNewerSchema = errors.New("database schema is newer than this binary")

// ErrForeignDatabase is returned by Migrate when the database carries
// another application's ID.
var ErrForeignDatabase = errors.New("database belongs to another application")

// Schema is an ordered list of forward-only migrations. Migration i
// brings user_version from i to i+1. Never edit or reorder a
// published migration; append a new one.
type Schema struct {
	// AppID is stored in the application_id header field and checked
	// on every run, so a foreign SQLite file is refused instead of
	// being migrated.
	AppID int32

	Migrations []string
}

// Migrate applies every migration the database has not yet seen, all
// inside one IMMEDIATE transaction: two processes opening a fresh
// database at once serialize here, and the loser sees the winner's
// version. Running Migrate against an up-to-date database changes
// nothing.
func Migrate(ctx context.Context, conn *sqlite.Conn, schema Schema) (err error) {
	defer conn.SetInterrupt(conn.SetInterrupt(ctx.Done()))

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("starting migration: %w", err)
	}
	defer end(&err)

	appID, err := pragmaInt(conn, "application_id")
	if err != nil {
		return err
	}
	version, err := UserVersion(conn)
	if err != nil {
		return err
	}

	if appID != 0 && appID != int(schema.AppID) {
		return fmt.Errorf("%w: application_id %#x, want %#x", ErrForeignDatabase, appID, schema.AppID)
	}
	if appID == 0 && version != 0 {
		return fmt.Errorf("%w: user_version %d without application_id", ErrForeignDatabase, version)
	}
	if version > len(schema.Migrations) {
		return fmt.Errorf("%w: database at version %d, binary knows %d",
			ErrNewerSchema, version, len(schema.Migrations))
	}

	for index := version; index < len(schema.Migrations); index++ {
		if err := sqlitex.ExecuteScript(conn, schema.Migrations[index], nil); err != nil {
			return fmt.Errorf("migration %d: %w", index+1, err)
		}
	}
	if version < len(schema.Migrations) {
		// PRAGMA arguments cannot be bound parameters.
		script := fmt.Sprintf("PRAGMA application_id = %d; PRAGMA user_version = %d;",
			schema.AppID, len(schema.Migrations))
		if err := sqlitex.ExecuteScript(conn, script, nil); err != nil {
			return fmt.Errorf("recording schema version: %w", err)
		}
	}
	return nil
}

// UserVersion returns the database's user_version pragma.
func UserVersion(conn *sqlite.Conn) (int, error) {
	return pragmaInt(conn, "user_version")
}

func pragmaInt(conn *sqlite.Conn, name string) (int, error) {
	var value int
	err := sqlitex.ExecuteTransient(conn, "PRAGMA "+name, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", name, err)
	}
	return value, nil
}
