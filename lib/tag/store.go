// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hcops/lib/clock"
	"github.com/bureau-foundation/hcops/lib/endpoint"
	"github.com/bureau-foundation/hcops/lib/sqliteconn"
)

// MaxNameLength bounds tag names in bytes.
const MaxNameLength = 64

// appID marks the file as an hcops tag store ("hcop").
const appID = 0x68636f70

var schema = sqliteconn.Schema{
	AppID: appID,
	Migrations: []string{
		`CREATE TABLE conductor_tag (
			name       TEXT PRIMARY KEY NOT NULL,
			host       TEXT NOT NULL,
			admin_port INTEGER NOT NULL,
			app_port   INTEGER,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX conductor_tag_endpoint ON conductor_tag (host, admin_port);`,

		`CREATE TABLE agent_tag (
			name       TEXT PRIMARY KEY NOT NULL,
			agent      BLOB NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		);`,
	},
}

// ConductorTag is a named endpoint.
type ConductorTag struct {
	Name      string            `json:"name"`
	Endpoint  endpoint.Endpoint `json:"endpoint"`
	CreatedAt time.Time         `json:"created_at"`
}

// Config configures a Store.
type Config struct {
	// Path is the store file. Required. Its directory is created.
	Path string

	// Clock stamps creation times. Nil means the real clock.
	Clock clock.Clock

	// Logger receives mutation records. Nil discards.
	Logger *slog.Logger
}

// Store is the tag registry. It holds only configuration; see the
// package documentation for the connection model.
type Store struct {
	path   string
	clock  clock.Clock
	logger *slog.Logger
}

// Open prepares the store at cfg.Path, applying pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("tag: store path is required")
	}
	store := &Store{path: cfg.Path, clock: cfg.Clock, logger: cfg.Logger}
	if store.clock == nil {
		store.clock = clock.Real()
	}
	if store.logger == nil {
		store.logger = slog.New(slog.DiscardHandler)
	}

	conn, err := store.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := sqliteconn.Migrate(ctx, conn, schema); err != nil {
		return nil, store.corrupt(err)
	}
	return store, nil
}

// Path returns the store file path.
func (s *Store) Path() string { return s.path }

// Add binds name to e. Adding an identical pair again is a no-op.
func (s *Store) Add(ctx context.Context, name string, e endpoint.Endpoint) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	e = e.Normalize()
	if err := e.Validate(); err != nil {
		return fmt.Errorf("tag %q: %w", name, err)
	}

	created := false
	err := s.transact(ctx, func(conn *sqlite.Conn) error {
		existing, found, err := lookupConductor(conn, name)
		if err != nil {
			return err
		}
		if found {
			if existing.Endpoint.Equal(e) {
				return nil
			}
			return &Error{
				Kind:   KindDuplicateName,
				Name:   name,
				Detail: "already bound to " + existing.Endpoint.String(),
			}
		}

		var appPort any
		if e.AppPort != nil {
			appPort = int64(*e.AppPort)
		}
		created = true
		return sqlitex.Execute(conn,
			`INSERT INTO conductor_tag (name, host, admin_port, app_port, created_at) VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{name, e.Host, int64(e.AdminPort), appPort, s.clock.Now().UnixNano()}})
	})
	if err != nil {
		return err
	}
	if created {
		s.logger.Info("conductor tag added", "tag", name, "endpoint", e.String())
	}
	return nil
}

// Resolve returns the endpoint bound to name.
func (s *Store) Resolve(ctx context.Context, name string) (endpoint.Endpoint, error) {
	var tag ConductorTag
	err := s.transact(ctx, func(conn *sqlite.Conn) error {
		var found bool
		var err error
		tag, found, err = lookupConductor(conn, name)
		if err != nil {
			return err
		}
		if !found {
			return &Error{Kind: KindNotFound, Name: name}
		}
		return nil
	})
	return tag.Endpoint, err
}

// Remove deletes the tag called name.
func (s *Store) Remove(ctx context.Context, name string) error {
	err := s.transact(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM conductor_tag WHERE name = ?`,
			&sqlitex.ExecOptions{Args: []any{name}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return &Error{Kind: KindNotFound, Name: name}
		}
		return nil
	})
	if err == nil {
		s.logger.Info("conductor tag removed", "tag", name)
	}
	return err
}

// List returns every conductor tag in creation order, ties by name.
func (s *Store) List(ctx context.Context) ([]ConductorTag, error) {
	var tags []ConductorTag
	err := s.transact(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT name, host, admin_port, app_port, created_at FROM conductor_tag ORDER BY created_at, name`,
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				tags = append(tags, scanConductor(stmt))
				return nil
			}})
	})
	return tags, err
}

// NamesFor returns the names bound to an endpoint equal to e, sorted.
func (s *Store) NamesFor(ctx context.Context, e endpoint.Endpoint) ([]string, error) {
	e = e.Normalize()
	var names []string
	err := s.transact(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT name, host, admin_port, app_port, created_at FROM conductor_tag WHERE host = ? AND admin_port = ? ORDER BY name`,
			&sqlitex.ExecOptions{
				Args: []any{e.Host, int64(e.AdminPort)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					if tag := scanConductor(stmt); tag.Endpoint.Equal(e) {
						names = append(names, tag.Name)
					}
					return nil
				},
			})
	})
	return names, err
}

func lookupConductor(conn *sqlite.Conn, name string) (ConductorTag, bool, error) {
	var tag ConductorTag
	found := false
	err := sqlitex.Execute(conn,
		`SELECT name, host, admin_port, app_port, created_at FROM conductor_tag WHERE name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tag, found = scanConductor(stmt), true
				return nil
			},
		})
	return tag, found, err
}

func scanConductor(stmt *sqlite.Stmt) ConductorTag {
	tag := ConductorTag{
		Name: stmt.ColumnText(0),
		Endpoint: endpoint.Endpoint{
			Host:      stmt.ColumnText(1),
			AdminPort: uint16(stmt.ColumnInt64(2)),
		},
		CreatedAt: time.Unix(0, stmt.ColumnInt64(4)).UTC(),
	}
	if stmt.ColumnType(3) != sqlite.TypeNull {
		tag.Endpoint = tag.Endpoint.WithAppPort(uint16(stmt.ColumnInt64(3)))
	}
	return tag
}

// ValidateName checks a tag name: non-empty, at most MaxNameLength
// bytes, no whitespace or control characters.
func ValidateName(name string) error {
	if name == "" {
		return &Error{Kind: KindInvalidName, Detail: "name is empty"}
	}
	if len(name) > MaxNameLength {
		return &Error{Kind: KindInvalidName, Name: name, Detail: fmt.Sprintf("longer than %d bytes", MaxNameLength)}
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return &Error{Kind: KindInvalidName, Name: name, Detail: "contains whitespace or control characters"}
		}
	}
	return nil
}

func (s *Store) connect(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := sqliteconn.OpenReadWrite(ctx, s.path, sqliteconn.Options{Logger: s.logger})
	if err != nil {
		if sqliteconn.IsNotADatabase(err) {
			return nil, s.corrupt(err)
		}
		return nil, fmt.Errorf("opening tag store: %w", err)
	}
	return conn, nil
}

// transact runs fn in one IMMEDIATE transaction on a fresh connection.
// fn's error rolls the transaction back.
func (s *Store) transact(ctx context.Context, fn func(*sqlite.Conn) error) (err error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		if sqliteconn.IsNotADatabase(err) {
			return s.corrupt(err)
		}
		return fmt.Errorf("tag store transaction: %w", err)
	}
	defer end(&err)
	return fn(conn)
}

func (s *Store) corrupt(err error) error {
	return &Error{
		Kind:   KindStoreCorrupt,
		Path:   s.path,
		Detail: "delete the file to reset the registry (all tags will be lost)",
		Err:    err,
	}
}
