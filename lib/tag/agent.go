// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hcops/lib/holohash"
)

// AgentTag is a named agent public key.
type AgentTag struct {
	Name      string        `json:"name"`
	Agent     holohash.Hash `json:"agent"`
	CreatedAt time.Time     `json:"created_at"`
}

// AddAgent binds name to an agent key. Re-adding the same pair is a
// no-op. Binding a name that is taken, or an agent that already has a
// tag, fails with KindDuplicateName.
func (s *Store) AddAgent(ctx context.Context, name string, agent holohash.Hash) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if agent.Kind() != holohash.KindAgent {
		return fmt.Errorf("tag %q: %s is not an agent key", name, agent)
	}

	created := false
	err := s.transact(ctx, func(conn *sqlite.Conn) error {
		byName, found, err := lookupAgent(conn, `WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if found {
			if byName.Agent == agent {
				return nil
			}
			return &Error{Kind: KindDuplicateName, Name: name, Detail: "already bound to agent " + byName.Agent.String()}
		}
		byAgent, found, err := lookupAgent(conn, `WHERE agent = ?`, agent.Raw())
		if err != nil {
			return err
		}
		if found {
			return &Error{Kind: KindDuplicateName, Name: name, Detail: fmt.Sprintf("agent is already tagged %q", byAgent.Name)}
		}

		created = true
		return sqlitex.Execute(conn, `INSERT INTO agent_tag (name, agent, created_at) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{name, agent.Raw(), s.clock.Now().UnixNano()}})
	})
	if err != nil {
		return err
	}
	if created {
		s.logger.Info("agent tag added", "tag", name, "agent", agent.String())
	}
	return nil
}

// ResolveAgent returns the agent key bound to name.
func (s *Store) ResolveAgent(ctx context.Context, name string) (holohash.Hash, error) {
	var tag AgentTag
	err := s.transact(ctx, func(conn *sqlite.Conn) error {
		var found bool
		var err error
		tag, found, err = lookupAgent(conn, `WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if !found {
			return &Error{Kind: KindNotFound, Name: name}
		}
		return nil
	})
	return tag.Agent, err
}

// RemoveAgent deletes the agent tag called name.
func (s *Store) RemoveAgent(ctx context.Context, name string) error {
	err := s.transact(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `DELETE FROM agent_tag WHERE name = ?`,
			&sqlitex.ExecOptions{Args: []any{name}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return &Error{Kind: KindNotFound, Name: name}
		}
		return nil
	})
	if err == nil {
		s.logger.Info("agent tag removed", "tag", name)
	}
	return err
}

// ListAgents returns every agent tag in creation order, ties by name.
func (s *Store) ListAgents(ctx context.Context) ([]AgentTag, error) {
	var tags []AgentTag
	err := s.transact(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT name, agent, created_at FROM agent_tag ORDER BY created_at, name`,
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				tag, err := scanAgent(stmt)
				if err != nil {
					return err
				}
				tags = append(tags, tag)
				return nil
			}})
	})
	return tags, err
}

// AgentNames returns a lookup from agent key to tag name, for labelling
// peers in reports.
func (s *Store) AgentNames(ctx context.Context) (map[holohash.Hash]string, error) {
	tags, err := s.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[holohash.Hash]string, len(tags))
	for _, tag := range tags {
		names[tag.Agent] = tag.Name
	}
	return names, nil
}

func lookupAgent(conn *sqlite.Conn, where string, arg any) (AgentTag, bool, error) {
	var tag AgentTag
	found := false
	err := sqlitex.Execute(conn, `SELECT name, agent, created_at FROM agent_tag `+where,
		&sqlitex.ExecOptions{
			Args: []any{arg},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				tag, err = scanAgent(stmt)
				found = err == nil
				return err
			},
		})
	return tag, found, err
}

func scanAgent(stmt *sqlite.Stmt) (AgentTag, error) {
	raw := make([]byte, stmt.ColumnLen(1))
	stmt.ColumnBytes(1, raw)
	agent, err := holohash.FromRaw(raw)
	if err != nil {
		return AgentTag{}, fmt.Errorf("agent tag %q: %w", stmt.ColumnText(0), err)
	}
	return AgentTag{
		Name:      stmt.ColumnText(0),
		Agent:     agent,
		CreatedAt: time.Unix(0, stmt.ColumnInt64(2)).UTC(),
	}, nil
}
