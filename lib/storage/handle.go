// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hcops/lib/holohash"
	"github.com/bureau-foundation/hcops/lib/sqliteconn"
)

// Options configures Open.
type Options struct {
	// BusyTimeout bounds lock waits. Zero means
	// sqliteconn.DefaultReadBusyTimeout.
	BusyTimeout time.Duration

	// Logger receives open and close records. Nil discards.
	Logger *slog.Logger
}

// Handle is one read-only database connection. A Handle is not safe
// for concurrent use; callers open one per goroutine.
type Handle struct {
	conn   *sqlite.Conn
	kind   DatabaseKind
	path   string
	cell   holohash.CellID
	logger *slog.Logger
}

// Open opens the kind database for cell read-only and verifies its
// schema. The returned handle must be closed.
func Open(ctx context.Context, layout Layout, cell holohash.CellID, kind DatabaseKind, options Options) (*Handle, error) {
	return OpenPath(ctx, layout.Path(kind, cell), cell, kind, options)
}

// OpenPath is Open for a database at an explicit path.
func OpenPath(ctx context.Context, path string, cell holohash.CellID, kind DatabaseKind, options Options) (*Handle, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fail := func(errKind ErrorKind, detail string, err error) error {
		return &Error{Kind: errKind, Database: kind, Path: path, Detail: detail, Err: err}
	}

	plaintext, err := sqliteconn.HasPlaintextHeader(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fail(KindNotFound, "", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%s database %s: %w", kind, path, err)
	}
	if !plaintext {
		return nil, fail(KindEncrypted, "no plaintext SQLite header; unlock the key with 'hcops storage key' and use sqlcipher", nil)
	}

	conn, err := sqliteconn.OpenReadOnly(ctx, path, sqliteconn.Options{BusyTimeout: options.BusyTimeout, Logger: logger})
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return nil, fail(KindNotFound, "", nil)
	case sqliteconn.IsBusy(err):
		return nil, fail(KindLocked, "held by another process", err)
	case sqliteconn.IsNotADatabase(err):
		return nil, fail(KindEncrypted, "", err)
	default:
		return nil, fmt.Errorf("%s database %s: %w", kind, path, err)
	}

	handle := &Handle{conn: conn, kind: kind, path: path, cell: cell, logger: logger}
	if err := handle.verifySchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Debug("storage handle opened", "database", kind.String(), "path", path)
	return handle, nil
}

// Kind returns which of the cell's databases this is.
func (h *Handle) Kind() DatabaseKind { return h.kind }

// Path returns the database file.
func (h *Handle) Path() string { return h.path }

// Cell returns the cell the handle was opened for.
func (h *Handle) Cell() holohash.CellID { return h.cell }

// Close releases the connection. Closing twice is a no-op.
func (h *Handle) Close() error {
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	h.logger.Debug("storage handle closed", "database", h.kind.String(), "path", h.path)
	return err
}

// query runs one statement, classifying failures. ResultFunc errors of
// type *Error pass through unchanged.
func (h *Handle) query(ctx context.Context, query string, args []any, result func(*sqlite.Stmt) error) error {
	if h.conn == nil {
		return fmt.Errorf("%s database %s: handle is closed", h.kind, h.path)
	}
	h.conn.SetInterrupt(ctx.Done())
	err := sqlitex.Execute(h.conn, query, &sqlitex.ExecOptions{Args: args, ResultFunc: result})
	if err == nil {
		return nil
	}

	var storageErr *Error
	switch {
	case errors.As(err, &storageErr):
		return storageErr
	case ctx.Err() != nil:
		return fmt.Errorf("%s database %s: %w", h.kind, h.path, ctx.Err())
	case sqliteconn.IsBusy(err):
		return h.fail(KindLocked, "held by another process", err)
	}
	return fmt.Errorf("querying %s database %s: %w", h.kind, h.path, err)
}

func (h *Handle) fail(kind ErrorKind, detail string, err error) error {
	return &Error{Kind: kind, Database: h.kind, Path: h.path, Detail: detail, Err: err}
}

// hashColumn reads a nullable 39-byte hash column.
func (h *Handle) hashColumn(stmt *sqlite.Stmt, column int, name string) (holohash.Hash, error) {
	if stmt.ColumnType(column) == sqlite.TypeNull {
		return holohash.Hash{}, nil
	}
	raw := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, raw)
	hash, err := holohash.FromRaw(raw)
	if err != nil {
		return holohash.Hash{}, h.fail(KindSchemaMismatch, "column "+name, err)
	}
	return hash, nil
}

// timestampColumn reads a nullable microsecond timestamp.
func timestampColumn(stmt *sqlite.Stmt, column int) time.Time {
	if stmt.ColumnType(column) == sqlite.TypeNull {
		return time.Time{}
	}
	return time.UnixMicro(stmt.ColumnInt64(column)).UTC()
}
