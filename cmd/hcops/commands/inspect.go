// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/inspect"
	"github.com/bureau-foundation/hcops/lib/storage"
)

type inspectParams struct {
	cli.JSONOutput
	tagParams
	storageParams
}

func inspectCommand(app *App) *cli.Command {
	var params inspectParams
	return &cli.Command{
		Name:    "inspect",
		Summary: "Reconcile a conductor's live view with its databases",
		Usage:   "hcops inspect --tag TAG [--data-root DIR] [--json]",
		Description: `Query the conductor behind --tag for its apps, peers and arcs while
reading its databases under --data-root, and report both side by side
per cell.

If one side cannot be read the report says so and shows the other. The
command fails only when neither the conductor nor its databases can
be read.`,
		Examples: []cli.Example{
			{Description: "Inspect a local conductor", Command: "hcops inspect --tag alice --data-root ~/.holochain/alice"},
		},
		Params: func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			if params.Tag == "" {
				return cli.Validation("--tag is required")
			}
			layout, err := env.layout(params.DataRoot)
			if err != nil {
				return err
			}
			store, err := env.tags(ctx)
			if err != nil {
				return err
			}

			inspector := inspect.New(inspect.Config{
				Tags:        store,
				Agents:      store,
				Manager:     env.manager(),
				ReadRetries: env.config.Connection.ReadRetries,
				Layout:      layout,
				Storage:     env.storageOptions(),
				Clock:       env.clock,
				Logger:      env.logger,
			})
			report, err := inspector.Inspect(ctx, params.Tag)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.stdout, report); done {
				return err
			}
			return renderReport(env.stdout, report, env.clock.Now())
		}),
	}
}

func renderReport(w io.Writer, report *inspect.Report, now time.Time) error {
	style := newStyles(w)

	fmt.Fprintln(w, style.heading.Render(fmt.Sprintf("Conductor %s", report.Tag)))
	fmt.Fprintf(w, "Endpoint:  %s\n", report.Endpoint)
	fmt.Fprintf(w, "Generated: %s\n", formatTime(report.GeneratedAt))
	for _, annotation := range report.Annotations {
		fmt.Fprintln(w, style.warn.Render("! "+annotation))
	}
	if len(report.Cells) == 0 {
		fmt.Fprintln(w, "\nNo cells found")
		return nil
	}

	for _, cell := range report.Cells {
		fmt.Fprintln(w)
		title := "Cell " + cell.Cell.String()
		if cell.AppID != "" {
			title += fmt.Sprintf("  (app %s, role %s)", cell.AppID, cell.Role)
		}
		fmt.Fprintln(w, style.heading.Render(title))

		if live := cell.Live; live != nil {
			fmt.Fprintf(w, "  Live:    %d peers, storage arc %s, target arc %s, %d pending fetches\n",
				len(live.Peers), formatArc(live.StorageArc), formatArc(live.TargetArc), live.PendingFetchRequests)
			if len(live.Peers) > 0 {
				if err := renderPeers(w, live.Peers, now); err != nil {
					return err
				}
			}
		} else if report.LiveAvailable() {
			fmt.Fprintln(w, "  Live:    not running")
		}

		switch {
		case cell.Storage != nil:
			fmt.Fprintf(w, "  Storage: %s\n", summarizeStorage(cell.Storage))
		case cell.StorageError != "":
			fmt.Fprintln(w, "  Storage: "+style.bad.Render(cell.StorageError))
		}

		for _, annotation := range cell.Annotations {
			fmt.Fprintln(w, "  "+style.faint.Render("note: "+annotation))
		}
	}
	return nil
}

func renderPeers(w io.Writer, peers []inspect.Peer, now time.Time) error {
	table := newTable(w, "    AGENT", "URL", "EXPIRES", "ARC")
	for _, peer := range peers {
		label := peer.Label()
		if peer.Local {
			label += " (local)"
		}
		expires := formatRelative(peer.ExpiresAt, now)
		if peer.Expired {
			expires += " (expired)"
		}
		row(table, "    "+label, orDash(peer.URL), expires, formatArc(peer.StorageArc))
	}
	return table.Flush()
}

// summarizeStorage condenses a cell summary to one line.
func summarizeStorage(summary *storage.Summary) string {
	var total uint64
	for _, count := range summary.OpCounts {
		total += count
	}
	parts := []string{
		fmt.Sprintf("%d records", summary.RecordCount),
		fmt.Sprintf("%d ops (%s)", total, opBreakdown(summary.OpCounts, storage.ValidationStates)),
		fmt.Sprintf("%d agents", summary.PeerCount),
	}
	if summary.AuthoredOps != nil {
		parts = append(parts, "authored "+opBreakdown(summary.AuthoredOps, storage.AuthoredStates))
	}
	if len(summary.Missing) > 0 {
		missing := make([]string, len(summary.Missing))
		for i, kind := range summary.Missing {
			missing[i] = kind.String()
		}
		parts = append(parts, "no "+strings.Join(missing, "/")+" database")
	}
	return strings.Join(parts, ", ")
}

// opBreakdown lists the non-zero counts in state order.
func opBreakdown(counts map[storage.OpState]uint64, states []storage.OpState) string {
	var parts []string
	for _, state := range states {
		if count := counts[state]; count > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", state, count))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
