// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/version"
)

// Root returns the hcops command tree.
func Root(app *App) *cli.Command {
	return &cli.Command{
		Name:    "hcops",
		Summary: "Operate local Holochain conductors",
		Description: `hcops finds the conductors running on this machine, names their admin
endpoints with tags, runs admin calls against them, and reads their
databases to show what each node holds.

Global flags, before the command:
  --config PATH   configuration file (default: $HCOPS_CONFIG)
  -v, --verbose   debug logging on stderr`,
		Subcommands: []*cli.Command{
			discoverCommand(app),
			conductorTagCommand(app),
			agentTagCommand(app),
			adminCommand(app),
			initCommand(app),
			inspectCommand(app),
			exploreCommand(app),
			compareCommand(app),
			storageCommand(app),
			versionCommand(app),
		},
	}
}

type versionParams struct {
	cli.JSONOutput
}

func versionCommand(app *App) *cli.Command {
	var params versionParams
	return &cli.Command{
		Name:    "version",
		Summary: "Print build information",
		Params:  func() any { return &params },
		// Version needs no configuration, so it skips app.run.
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			stdout := app.stdout()
			info := version.Current()
			if done, err := params.EmitJSON(stdout, info); done {
				return err
			}
			fmt.Fprintln(stdout, "hcops", version.Full())
			return nil
		},
	}
}
