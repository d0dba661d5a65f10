// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqliteconn_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hcops/lib/sqliteconn"
)

var testSchema = sqliteconn.Schema{
	AppID: 0x74657374,
	Migrations: []string{
		`CREATE TABLE numbers (value INTEGER NOT NULL);`,
		`ALTER TABLE numbers ADD COLUMN label TEXT;`,
	},
}

func TestOpenReadWriteAppliesPragmas(t *testing.T) {
	conn := openReadWrite(t, filepath.Join(t.TempDir(), "nested", "rw.db"))

	var journalMode string
	err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			journalMode = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")
	ctx := context.Background()

	for attempt := range 3 {
		conn, err := sqliteconn.OpenReadWrite(ctx, path, sqliteconn.Options{})
		if err != nil {
			t.Fatalf("OpenReadWrite attempt %d: %v", attempt, err)
		}
		if err := sqliteconn.Migrate(ctx, conn, testSchema); err != nil {
			t.Fatalf("Migrate attempt %d: %v", attempt, err)
		}
		version, err := sqliteconn.UserVersion(conn)
		if err != nil {
			t.Fatalf("UserVersion: %v", err)
		}
		if version != len(testSchema.Migrations) {
			t.Fatalf("attempt %d: user_version = %d, want %d", attempt, version, len(testSchema.Migrations))
		}
		conn.Close()
	}

	conn := openReadWrite(t, path)
	err := sqlitex.ExecuteTransient(conn, "INSERT INTO numbers (value, label) VALUES (1, 'one')", nil)
	if err != nil {
		t.Fatalf("INSERT after migrations: %v", err)
	}
}

func TestMigrateRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newer.db")
	conn := openReadWrite(t, path)
	if err := sqlitex.ExecuteScript(conn, "PRAGMA application_id = 1952805748; PRAGMA user_version = 9;", nil); err != nil {
		t.Fatalf("setting user_version: %v", err)
	}

	err := sqliteconn.Migrate(context.Background(), conn, testSchema)
	if !errors.Is(err, sqliteconn.ErrNewerSchema) {
		t.Fatalf("Migrate = %v, want ErrNewerSchema", err)
	}
}

func TestMigrateRejectsForeignDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.db")
	conn := openReadWrite(t, path)
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA application_id = 42", nil); err != nil {
		t.Fatalf("setting application_id: %v", err)
	}

	err := sqliteconn.Migrate(context.Background(), conn, testSchema)
	if !errors.Is(err, sqliteconn.ErrForeignDatabase) {
		t.Fatalf("Migrate = %v, want ErrForeignDatabase", err)
	}
}

func TestOpenReadOnlyRefusesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.db")
	writer, err := sqliteconn.OpenReadWrite(context.Background(), path, sqliteconn.Options{})
	if err != nil {
		t.Fatalf("OpenReadWrite: %v", err)
	}
	if err := sqliteconn.Migrate(context.Background(), writer, testSchema); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	writer.Close()

	reader, err := sqliteconn.OpenReadOnly(context.Background(), path, sqliteconn.Options{})
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer reader.Close()

	err = sqlitex.ExecuteTransient(reader, "INSERT INTO numbers (value) VALUES (1)", nil)
	if err == nil {
		t.Fatal("INSERT through read-only connection succeeded")
	}
	if sqlite.ErrCode(err).ToPrimary() != sqlite.ResultReadOnly {
		t.Errorf("INSERT error code = %v, want SQLITE_READONLY", sqlite.ErrCode(err))
	}
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	_, err := sqliteconn.OpenReadOnly(context.Background(), filepath.Join(t.TempDir(), "absent"), sqliteconn.Options{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("OpenReadOnly = %v, want os.ErrNotExist", err)
	}
}

func TestOpenReadOnlyNotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := sqliteconn.OpenReadOnly(context.Background(), path, sqliteconn.Options{})
	if !sqliteconn.IsNotADatabase(err) {
		t.Fatalf("OpenReadOnly = %v, want SQLITE_NOTADB", err)
	}
}

func TestOpenReadOnlyReportsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.db")

	// Rollback-journal mode: an EXCLUSIVE transaction blocks readers,
	// unlike WAL.
	writer, err := sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenCreate)
	if err != nil {
		t.Fatalf("OpenConn: %v", err)
	}
	t.Cleanup(func() { writer.Close() })
	err = sqlitex.ExecuteScript(writer, `
		PRAGMA journal_mode=DELETE;
		CREATE TABLE numbers (value INTEGER);
	`, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := sqlitex.ExecuteTransient(writer, "BEGIN EXCLUSIVE", nil); err != nil {
		t.Fatalf("BEGIN EXCLUSIVE: %v", err)
	}
	if err := sqlitex.ExecuteTransient(writer, "INSERT INTO numbers VALUES (1)", nil); err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	start := time.Now()
	_, err = sqliteconn.OpenReadOnly(context.Background(), path, sqliteconn.Options{BusyTimeout: 50 * time.Millisecond})
	if !sqliteconn.IsBusy(err) {
		t.Fatalf("OpenReadOnly under exclusive lock = %v, want busy", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("busy open took %v, want bounded by busy timeout", elapsed)
	}
}

func TestHasPlaintextHeader(t *testing.T) {
	directory := t.TempDir()

	plain := filepath.Join(directory, "plain.db")
	conn, err := sqliteconn.OpenReadWrite(context.Background(), plain, sqliteconn.Options{})
	if err != nil {
		t.Fatalf("OpenReadWrite: %v", err)
	}
	if err := sqlitex.ExecuteTransient(conn, "CREATE TABLE t (x)", nil); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	encrypted := filepath.Join(directory, "encrypted.db")
	if err := os.WriteFile(encrypted, []byte("\x8a\x11 not sqlite, ciphertext follows..."), 0o644); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(directory, "empty.db")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{plain, true},
		{encrypted, false},
		{empty, true},
	}
	for _, test := range tests {
		got, err := sqliteconn.HasPlaintextHeader(test.path)
		if err != nil {
			t.Fatalf("HasPlaintextHeader(%s): %v", filepath.Base(test.path), err)
		}
		if got != test.want {
			t.Errorf("HasPlaintextHeader(%s) = %v, want %v", filepath.Base(test.path), got, test.want)
		}
	}
}

func openReadWrite(t *testing.T, path string) *sqlite.Conn {
	t.Helper()
	conn, err := sqliteconn.OpenReadWrite(context.Background(), path, sqliteconn.Options{})
	if err != nil {
		t.Fatalf("OpenReadWrite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
