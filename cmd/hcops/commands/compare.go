// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/inspect"
)

func compareCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:    "compare",
		Summary: "Compare saved dumps from two nodes",
		Subcommands: []*cli.Command{
			compareSliceHashesCommand(app),
		},
	}
}

type compareSliceHashesParams struct {
	cli.JSONOutput
}

func compareSliceHashesCommand(app *App) *cli.Command {
	var params compareSliceHashesParams
	return &cli.Command{
		Name:    "slice-hashes",
		Summary: "Diff two slice hash dumps",
		Usage:   "hcops compare slice-hashes <ours.json> <theirs.json>",
		Description: `Diff two files written by 'hcops explore slice-hashes --json'. Each
difference is a slice only one side has, or a slice both have with
different hashes. Exits 1 when the dumps differ.

The files may carry // comments and trailing commas.`,
		Params: func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args, "ours", "theirs"); err != nil {
				return err
			}
			ours, err := inspect.LoadSliceHashes(args[0])
			if err != nil {
				return cli.Wrap(cli.CategoryValidation, err)
			}
			theirs, err := inspect.LoadSliceHashes(args[1])
			if err != nil {
				return cli.Wrap(cli.CategoryValidation, err)
			}

			diffs := inspect.CompareSliceHashes(ours, theirs)
			if done, err := params.EmitJSON(env.stdout, diffs); done {
				if err == nil && len(diffs) > 0 {
					err = &cli.ExitError{Code: 1}
				}
				return err
			}
			if len(diffs) == 0 {
				fmt.Fprintf(env.stdout, "Slice hashes agree (%d slices)\n", len(ours))
				return nil
			}

			table := newTable(env.stdout, "SLICE", "ARC", "DIFFERENCE", "OURS", "THEIRS")
			for _, diff := range diffs {
				row(table,
					fmt.Sprint(diff.SliceIndex),
					formatArc(&conductor.Arc{Start: diff.ArcStart, End: diff.ArcEnd}),
					string(diff.Kind),
					hexOrDash(diff.Ours),
					hexOrDash(diff.Theirs))
			}
			if err := table.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(env.stdout, "\n%d of %d slices differ\n", len(diffs), len(ours)+countOnly(diffs, inspect.OnlyTheirs))
			return &cli.ExitError{Code: 1}
		}),
	}
}

func hexOrDash(data []byte) string {
	if len(data) == 0 {
		return "-"
	}
	return fmt.Sprintf("%x", data)
}

func countOnly(diffs []inspect.SliceHashDiff, kind inspect.DiffKind) int {
	count := 0
	for _, diff := range diffs {
		if diff.Kind == kind {
			count++
		}
	}
	return count
}
