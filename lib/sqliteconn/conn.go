// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqliteconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultWriteBusyTimeout bounds how long a read-write connection waits
// for another writer before failing with SQLITE_BUSY.
const DefaultWriteBusyTimeout = 5 * time.Second

// DefaultReadBusyTimeout bounds how long a read-only connection waits
// on a lock held by a live conductor.
const DefaultReadBusyTimeout = 250 * time.Millisecond

// plaintextHeader opens every unencrypted SQLite 3 database file.
var plaintextHeader = []byte("SQLite format 3\x00")

// Options configures a connection.
type Options struct {
	// BusyTimeout overrides the default busy timeout for the mode.
	BusyTimeout time.Duration

	// Logger receives open/close messages. Nil discards.
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// OpenReadWrite opens (creating if necessary) the database at path and
// applies the read-write pragmas. The parent directory is created.
func OpenReadWrite(ctx context.Context, path string, options Options) (*sqlite.Conn, error) {
	if path == "" {
		return nil, fmt.Errorf("sqliteconn: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqliteconn: creating directory for %s: %w", path, err)
	}

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("sqliteconn: opening %s: %w", path, err)
	}
	conn.SetInterrupt(ctx.Done())

	timeout := options.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultWriteBusyTimeout
	}
	conn.SetBusyTimeout(timeout)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqliteconn: %s on %s: %w", pragma, path, err)
		}
	}

	options.logger().Debug("sqlite connection opened", "path", path, "mode", "rw")
	return conn, nil
}

// OpenReadOnly opens an existing database without write access. The
// file is never created. A first read runs before returning so that
// SQLITE_BUSY and SQLITE_NOTADB are reported here; callers classify
// the returned error with [IsBusy] and [IsNotADatabase].
func OpenReadOnly(ctx context.Context, path string, options Options) (*sqlite.Conn, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("sqliteconn: resolving %s: %w", path, err)
	}
	if _, err := os.Stat(absolute); err != nil {
		return nil, fmt.Errorf("sqliteconn: %w", err)
	}

	uri := (&url.URL{Scheme: "file", Path: absolute, RawQuery: "mode=ro"}).String()
	conn, err := sqlite.OpenConn(uri, sqlite.OpenReadOnly, sqlite.OpenURI)
	if err != nil {
		return nil, fmt.Errorf("sqliteconn: opening %s read-only: %w", path, err)
	}
	conn.SetInterrupt(ctx.Done())

	timeout := options.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultReadBusyTimeout
	}
	conn.SetBusyTimeout(timeout)

	if err := sqlitex.ExecuteTransient(conn, "SELECT count(*) FROM sqlite_master", nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqliteconn: reading %s: %w", path, err)
	}

	options.logger().Debug("sqlite connection opened", "path", path, "mode", "ro")
	return conn, nil
}

// HasPlaintextHeader reports whether the file at path starts with the
// unencrypted SQLite header. An empty file counts as plaintext: SQLite
// treats it as an empty database.
func HasPlaintextHeader(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	header := make([]byte, len(plaintextHeader))
	n, err := io.ReadFull(file, header)
	switch {
	case n == 0 && (errors.Is(err, io.EOF) || err == nil):
		return true, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return false, nil
	case err != nil:
		return false, err
	}
	return bytes.Equal(header, plaintextHeader), nil
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func IsBusy(err error) bool {
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return true
	}
	return false
}

// IsNotADatabase reports whether err is SQLITE_NOTADB.
func IsNotADatabase(err error) bool {
	return sqlite.ErrCode(err).ToPrimary() == sqlite.ResultNotADB
}

// IsConstraint reports whether err is a constraint violation.
func IsConstraint(err error) bool {
	return sqlite.ErrCode(err).ToPrimary() == sqlite.ResultConstraint
}
