// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/holohash"
	"github.com/bureau-foundation/hcops/lib/storage"
)

type exploreParams struct {
	tagParams
	storageParams
	App  string `json:"app"  flag:"app"  desc:"select the cell by installed app (needs --tag)"`
	Role string `json:"role" flag:"role" desc:"role within --app, when the app has several cells"`
	Cell string `json:"cell" flag:"cell" desc:"select the cell directly as <dna>:<agent>"`
}

func exploreCommand(app *App) *cli.Command {
	var params exploreParams
	return &cli.Command{
		Name:    "explore",
		Summary: "Browse one cell's databases",
		Usage:   "hcops explore [--tag TAG] --data-root DIR [--app APP [--role ROLE] | --cell CELL] <command>",
		Description: `Read one cell's databases directly. Select the cell with --cell, or
with --app and --role, which asks the conductor behind --tag for the
app's cells. Without either, the data root must hold exactly one cell.

Databases are opened read-only; a running conductor keeps writing
while they are read.`,
		Examples: []cli.Example{
			{Description: "Who has this conductor heard from", Command: "hcops explore --tag alice --data-root ~/.holochain/alice --app forum who-is-here"},
			{Description: "Dump the first 50 rows of everything", Command: "hcops explore --data-root ~/.holochain/alice dump --limit 50"},
			{Description: "Save slice hashes for compare", Command: "hcops explore --data-root ~/.holochain/alice slice-hashes --json > alice.json"},
		},
		Params: func() any { return &params },
		Subcommands: []*cli.Command{
			exploreWhoIsHereCommand(app, &params),
			exploreAgentChainCommand(app, &params),
			exploreDumpCommand(app, &params),
			exploreSliceHashesCommand(app, &params),
		},
	}
}

// cellTarget is the cell explore commands read, with the layout that
// holds its databases.
type cellTarget struct {
	layout storage.Layout
	cell   holohash.CellID
}

func (p *exploreParams) target(ctx context.Context, env *environment) (cellTarget, error) {
	layout, err := env.layout(p.DataRoot)
	if err != nil {
		return cellTarget{}, err
	}

	switch {
	case p.Cell != "" && p.App != "":
		return cellTarget{}, cli.Validation("--cell and --app are mutually exclusive")

	case p.Cell != "":
		cell, err := holohash.ParseCellID(p.Cell)
		if err != nil {
			return cellTarget{}, cli.Wrap(cli.CategoryValidation, err)
		}
		return cellTarget{layout: layout, cell: cell}, nil

	case p.App != "":
		cell, err := p.appCell(ctx, env)
		if err != nil {
			return cellTarget{}, err
		}
		return cellTarget{layout: layout, cell: cell}, nil
	}

	cells, err := layout.Cells()
	if err != nil {
		return cellTarget{}, err
	}
	switch len(cells) {
	case 0:
		return cellTarget{}, cli.NotFound("no cells under %s", layout.DatabasesDir()).
			WithHint("Check that --data-root points at the conductor's data directory.")
	case 1:
		return cellTarget{layout: layout, cell: cells[0]}, nil
	}
	listed := make([]string, len(cells))
	for i, cell := range cells {
		listed[i] = "  " + cell.String()
	}
	return cellTarget{}, cli.Validation("%d cells under %s", len(cells), layout.DatabasesDir()).
		WithHint("Choose one with --cell or --app:\n" + strings.Join(listed, "\n"))
}

// appCell asks the conductor for the app's cells and picks by role.
func (p *exploreParams) appCell(ctx context.Context, env *environment) (holohash.CellID, error) {
	client, _, err := env.admin(ctx, p.Tag)
	if err != nil {
		return holohash.CellID{}, err
	}
	defer client.Close()

	info, err := client.FindApp(ctx, p.App)
	if err != nil {
		return holohash.CellID{}, err
	}
	cells := info.ProvisionedCells()
	roles := make([]string, len(cells))
	for i, cell := range cells {
		if cell.Role == p.Role {
			return cell.CellID, nil
		}
		roles[i] = cell.Role
	}
	switch {
	case len(cells) == 0:
		return holohash.CellID{}, cli.NotFound("app %q has no provisioned cells", p.App)
	case p.Role == "" && len(cells) == 1:
		return cells[0].CellID, nil
	case p.Role == "":
		return holohash.CellID{}, cli.Validation("app %q has %d roles", p.App, len(cells)).
			WithHint("Choose one with --role: " + strings.Join(roles, ", "))
	}
	return holohash.CellID{}, cli.NotFound("app %q has no role %q", p.App, p.Role).
		WithHint("Roles: " + strings.Join(roles, ", "))
}

// read opens the kind database for the duration of fn. With optional
// set, a missing database calls fn with a nil handle.
func (t cellTarget) read(ctx context.Context, env *environment, kind storage.DatabaseKind, optional bool, fn func(*storage.Handle) error) error {
	handle, err := storage.Open(ctx, t.layout, t.cell, kind, env.storageOptions())
	if err != nil {
		var storageErr *storage.Error
		if optional && errors.As(err, &storageErr) && storageErr.Kind == storage.KindNotFound {
			env.logger.Debug("optional database missing", "database", kind.String(), "path", storageErr.Path)
			return fn(nil)
		}
		return err
	}
	defer handle.Close()
	return fn(handle)
}

type whoIsHereParams struct {
	cli.JSONOutput
}

// presentAgent is an agent found in a cell's databases.
type presentAgent struct {
	Agent holohash.Hash `json:"agent"`
	Tag   string        `json:"tag,omitempty"`
	In    []string      `json:"found_in"`
}

func exploreWhoIsHereCommand(app *App, parent *exploreParams) *cli.Command {
	var params whoIsHereParams
	return &cli.Command{
		Name:    "who-is-here",
		Summary: "List agents present in the cell's DHT and cache",
		Description: `List the agents whose validation packages are in the cell's DHT
database (validated) or cache database. These are the agents this node
has seen join the network, whether or not they are online now.`,
		Params: func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			target, err := parent.target(ctx, env)
			if err != nil {
				return err
			}

			found := make(map[holohash.Hash]*presentAgent)
			var order []holohash.Hash
			collect := func(kind storage.DatabaseKind, optional bool) error {
				return target.read(ctx, env, kind, optional, func(handle *storage.Handle) error {
					if handle == nil {
						return nil
					}
					agents, err := handle.Agents(ctx)
					if err != nil {
						return err
					}
					for _, agent := range agents {
						entry, ok := found[agent]
						if !ok {
							entry = &presentAgent{Agent: agent}
							found[agent] = entry
							order = append(order, agent)
						}
						entry.In = append(entry.In, kind.String())
					}
					return nil
				})
			}
			if err := collect(storage.DHT, false); err != nil {
				return err
			}
			if err := collect(storage.Cache, true); err != nil {
				return err
			}

			labels := agentLabels(ctx, env)
			slices.SortFunc(order, func(a, b holohash.Hash) int { return strings.Compare(a.String(), b.String()) })
			agents := make([]presentAgent, len(order))
			for i, agent := range order {
				agents[i] = *found[agent]
				agents[i].Tag = labels[agent]
			}

			if done, err := params.EmitJSON(env.stdout, agents); done {
				return err
			}
			if len(agents) == 0 {
				fmt.Fprintln(env.stdout, "No agents found")
				return nil
			}
			table := newTable(env.stdout, "AGENT", "FOUND IN")
			for _, agent := range agents {
				row(table, labelAgent(agent.Agent, labels), strings.Join(agent.In, ","))
			}
			return table.Flush()
		}),
	}
}

type agentChainParams struct {
	cli.JSONOutput
}

func exploreAgentChainCommand(app *App, parent *exploreParams) *cli.Command {
	var params agentChainParams
	return &cli.Command{
		Name:    "agent-chain",
		Summary: "Show an agent's source chain as this node holds it",
		Usage:   "hcops explore [flags] agent-chain <agent-key|agent-tag>",
		Description: `Print the actions authored by an agent that this node holds in its DHT
and cache databases, ordered by sequence number. Gaps in the sequence
are actions this node has not received.`,
		Params: func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args, "agent"); err != nil {
				return err
			}
			agent, err := resolveAgent(ctx, env, args[0])
			if err != nil {
				return err
			}
			target, err := parent.target(ctx, env)
			if err != nil {
				return err
			}

			seen := make(map[holohash.Hash]bool)
			var chain []storage.Action
			for _, source := range []struct {
				kind     storage.DatabaseKind
				optional bool
			}{{storage.DHT, false}, {storage.Cache, true}} {
				err := target.read(ctx, env, source.kind, source.optional, func(handle *storage.Handle) error {
					if handle == nil {
						return nil
					}
					actions, err := handle.Chain(ctx, agent)
					if err != nil {
						return err
					}
					for _, action := range actions {
						if !seen[action.Hash] {
							seen[action.Hash] = true
							chain = append(chain, action)
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			slices.SortStableFunc(chain, func(a, b storage.Action) int { return int(a.Seq) - int(b.Seq) })

			if done, err := params.EmitJSON(env.stdout, chain); done {
				return err
			}
			if len(chain) == 0 {
				fmt.Fprintf(env.stdout, "No actions by %s\n", agent)
				return nil
			}
			table := newTable(env.stdout, "SEQ", "TYPE", "HASH", "ENTRY TYPE")
			for _, action := range chain {
				row(table, fmt.Sprint(action.Seq), action.Type, action.Hash.String(), orDash(action.EntryType))
			}
			return table.Flush()
		}),
	}
}

// resolveAgent accepts an agent key or an agent tag.
func resolveAgent(ctx context.Context, env *environment, text string) (holohash.Hash, error) {
	if strings.HasPrefix(text, "uhCAk") {
		agent, err := holohash.ParseKind(text, holohash.KindAgent)
		if err != nil {
			return holohash.Hash{}, cli.Wrap(cli.CategoryValidation, err)
		}
		return agent, nil
	}
	store, err := env.tags(ctx)
	if err != nil {
		return holohash.Hash{}, err
	}
	return store.ResolveAgent(ctx, text)
}

type dumpParams struct {
	cli.JSONOutput
	Limit int `json:"limit" flag:"limit,n" default:"20" desc:"rows per table (0 for all)"`
}

// cellDump is every table of a cell's databases, bounded per table.
type cellDump struct {
	Cell            holohash.CellID  `json:"cell_id"`
	AuthoredOps     []storage.Op     `json:"authored_ops"`
	AuthoredActions []storage.Action `json:"authored_actions"`
	AuthoredEntries []storage.Entry  `json:"authored_entries"`
	DhtOps          []storage.Op     `json:"dht_ops"`
	DhtActions      []storage.Action `json:"dht_actions"`
	CacheOps        []storage.Op     `json:"cache_ops"`
	CacheActions    []storage.Action `json:"cache_actions"`
}

func exploreDumpCommand(app *App, parent *exploreParams) *cli.Command {
	var params dumpParams
	return &cli.Command{
		Name:    "dump",
		Summary: "Dump ops, actions and entries from every database",
		Params:  func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			if params.Limit < 0 {
				return cli.Validation("--limit must not be negative")
			}
			target, err := parent.target(ctx, env)
			if err != nil {
				return err
			}

			dump := cellDump{Cell: target.cell}
			err = target.read(ctx, env, storage.Authored, true, func(handle *storage.Handle) (err error) {
				if handle == nil {
					return nil
				}
				if dump.AuthoredOps, err = handle.Ops(ctx, params.Limit); err != nil {
					return err
				}
				if dump.AuthoredActions, err = handle.Actions(ctx, params.Limit); err != nil {
					return err
				}
				dump.AuthoredEntries, err = handle.Entries(ctx, params.Limit)
				return err
			})
			if err != nil {
				return err
			}
			err = target.read(ctx, env, storage.DHT, false, func(handle *storage.Handle) (err error) {
				if dump.DhtOps, err = handle.Ops(ctx, params.Limit); err != nil {
					return err
				}
				dump.DhtActions, err = handle.Actions(ctx, params.Limit)
				return err
			})
			if err != nil {
				return err
			}
			err = target.read(ctx, env, storage.Cache, true, func(handle *storage.Handle) (err error) {
				if handle == nil {
					return nil
				}
				if dump.CacheOps, err = handle.Ops(ctx, params.Limit); err != nil {
					return err
				}
				dump.CacheActions, err = handle.Actions(ctx, params.Limit)
				return err
			})
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(env.stdout, dump); done {
				return err
			}
			return renderDump(env.stdout, dump)
		}),
	}
}

func renderDump(w io.Writer, dump cellDump) error {
	style := newStyles(w)
	fmt.Fprintln(w, style.heading.Render("Cell "+dump.Cell.String()))

	sections := []struct {
		title   string
		ops     []storage.Op
		actions []storage.Action
		entries []storage.Entry
	}{
		{title: "Authored ops", ops: dump.AuthoredOps},
		{title: "Authored actions", actions: dump.AuthoredActions},
		{title: "Authored entries", entries: dump.AuthoredEntries},
		{title: "DHT ops", ops: dump.DhtOps},
		{title: "DHT actions", actions: dump.DhtActions},
		{title: "Cache ops", ops: dump.CacheOps},
		{title: "Cache actions", actions: dump.CacheActions},
	}
	for _, section := range sections {
		fmt.Fprintln(w)
		fmt.Fprintln(w, style.heading.Render(section.title))
		var err error
		switch {
		case section.ops != nil:
			table := newTable(w, "HASH", "TYPE", "STATE", "AUTHORED", "LOC")
			for _, op := range section.ops {
				row(table, op.Hash.Short(), op.Type, string(op.State), formatTime(op.AuthoredAt), fmt.Sprint(op.StorageCenterLoc))
			}
			err = table.Flush()
		case section.actions != nil:
			table := newTable(w, "AUTHOR", "SEQ", "TYPE", "HASH", "ENTRY TYPE")
			for _, action := range section.actions {
				row(table, action.Author.Short(), fmt.Sprint(action.Seq), action.Type, action.Hash.Short(), orDash(action.EntryType))
			}
			err = table.Flush()
		case section.entries != nil:
			table := newTable(w, "HASH", "SIZE", "TAG")
			for _, entry := range section.entries {
				row(table, entry.Hash.Short(), formatBytes(uint64(entry.Size)), orDash(entry.Tag))
			}
			err = table.Flush()
		default:
			fmt.Fprintln(w, style.faint.Render("  (none)"))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type sliceHashesParams struct {
	cli.JSONOutput
}

func exploreSliceHashesCommand(app *App, parent *exploreParams) *cli.Command {
	var params sliceHashesParams
	return &cli.Command{
		Name:    "slice-hashes",
		Summary: "Show the DHT slice hashes",
		Description: `Print the slice hashes the conductor has computed over its DHT
database. Save the --json output from two nodes and diff them with
'hcops compare slice-hashes'.`,
		Params: func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			target, err := parent.target(ctx, env)
			if err != nil {
				return err
			}
			var hashes []storage.SliceHash
			err = target.read(ctx, env, storage.DHT, false, func(handle *storage.Handle) (err error) {
				hashes, err = handle.SliceHashes(ctx)
				return err
			})
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(env.stdout, hashes); done {
				return err
			}
			if len(hashes) == 0 {
				fmt.Fprintln(env.stdout, "No slice hashes")
				return nil
			}
			table := newTable(env.stdout, "SLICE", "ARC", "HASH")
			for _, hash := range hashes {
				row(table, fmt.Sprint(hash.SliceIndex), formatArc(&conductor.Arc{Start: hash.ArcStart, End: hash.ArcEnd}), fmt.Sprintf("%x", []byte(hash.Hash)))
			}
			return table.Flush()
		}),
	}
}
