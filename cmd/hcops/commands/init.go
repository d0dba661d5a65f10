// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/conductor"
)

// msgpackNil is the encoded unit payload passed to init.
var msgpackNil = []byte{0xc0}

type initParams struct {
	tagParams
}

func initCommand(app *App) *cli.Command {
	var params initParams
	return &cli.Command{
		Name:    "init",
		Summary: "Check or run cell initialization",
		Usage:   "hcops init --tag TAG <check|execute> [flags]",
		Description: `A cell is initialized once every zome's init callback has run and the
chain holds an InitZomesComplete action. Cells initialize lazily on
their first zome call; 'execute' forces it.`,
		Params: func() any { return &params },
		Subcommands: []*cli.Command{
			initCheckCommand(app, &params),
			initExecuteCommand(app, &params),
		},
	}
}

// cellInit is one row of init check output.
type cellInit struct {
	AppID       string           `json:"app_id"`
	Role        string           `json:"role"`
	Cell        conductor.CellID `json:"cell_id"`
	Initialized bool             `json:"initialized"`
}

type initCheckParams struct {
	cli.JSONOutput
}

func initCheckCommand(app *App, parent *initParams) *cli.Command {
	var params initCheckParams
	return &cli.Command{
		Name:    "check",
		Summary: "Report which cells are initialized",
		Usage:   "hcops init --tag TAG check [app-id]",
		Description: `Check every provisioned cell of every enabled app, or of one app.
Exits 1 when any cell is not initialized.`,
		Params: func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			var appID string
			if len(args) == 1 {
				appID = args[0]
			} else if err := expectArgs(args); err != nil {
				return err
			}

			return withAdmin(ctx, env, parent.Tag, func(client *conductor.AdminClient) error {
				apps, err := enabledApps(ctx, client, appID)
				if err != nil {
					return err
				}
				var cells []cellInit
				for _, info := range apps {
					for _, cell := range info.ProvisionedCells() {
						initialized, err := client.IsCellInitialized(ctx, cell.CellID)
						if err != nil {
							return err
						}
						cells = append(cells, cellInit{
							AppID:       info.InstalledAppID,
							Role:        cell.Role,
							Cell:        cell.CellID,
							Initialized: initialized,
						})
					}
				}

				if done, err := params.EmitJSON(env.stdout, cells); done {
					if err == nil {
						err = uninitializedExit(cells)
					}
					return err
				}
				if len(cells) == 0 {
					fmt.Fprintln(env.stdout, "No cells to check")
					return nil
				}
				table := newTable(env.stdout, "APP", "ROLE", "DNA", "INITIALIZED")
				for _, cell := range cells {
					initialized := "yes"
					if !cell.Initialized {
						initialized = "no"
					}
					row(table, cell.AppID, cell.Role, cell.Cell.DnaHash.String(), initialized)
				}
				if err := table.Flush(); err != nil {
					return err
				}
				return uninitializedExit(cells)
			})
		}),
	}
}

func uninitializedExit(cells []cellInit) error {
	for _, cell := range cells {
		if !cell.Initialized {
			return &cli.ExitError{Code: 1}
		}
	}
	return nil
}

// enabledApps returns every enabled app, or just appID. A named app
// that is missing or disabled is NotFound.
func enabledApps(ctx context.Context, client *conductor.AdminClient, appID string) ([]conductor.AppInfo, error) {
	if appID == "" {
		return client.ListApps(ctx, conductor.AppStatusEnabled)
	}
	info, err := client.FindApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	if info.Status != string(conductor.AppStatusEnabled) {
		return nil, cli.NotFound("app %q is %s", appID, info.Status).
			WithHint(fmt.Sprintf("Run 'hcops admin --tag T enable-app %s' first.", appID))
	}
	return []conductor.AppInfo{info}, nil
}

type initExecuteParams struct {
	Zome string `json:"zome" flag:"zome,z" desc:"zome whose init function to call (required)"`
}

func initExecuteCommand(app *App, parent *initParams) *cli.Command {
	var params initExecuteParams
	return &cli.Command{
		Name:    "execute",
		Summary: "Initialize an app's cells",
		Usage:   "hcops init --tag TAG execute <app-id> --zome ZOME",
		Description: `Call the init function of --zome on every provisioned cell of the app
that is not yet initialized. Initialized cells are skipped.`,
		Examples: []cli.Example{
			{Description: "Initialize the forum app", Command: "hcops init --tag alice execute forum --zome posts"},
		},
		Params: func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args, "app-id"); err != nil {
				return err
			}
			if params.Zome == "" {
				return cli.Validation("--zome is required")
			}
			appID := args[0]

			client, target, err := env.admin(ctx, parent.Tag)
			if err != nil {
				return err
			}
			defer client.Close()

			apps, err := enabledApps(ctx, client, appID)
			if err != nil {
				return err
			}
			var pending []conductor.RoleCell
			for _, cell := range apps[0].ProvisionedCells() {
				initialized, err := client.IsCellInitialized(ctx, cell.CellID)
				if err != nil {
					return err
				}
				if initialized {
					fmt.Fprintf(env.stdout, "%s: already initialized\n", cell.Role)
					continue
				}
				pending = append(pending, cell)
			}
			if len(pending) == 0 {
				return nil
			}

			appClient, err := env.manager().ConnectApp(ctx, client, target.Normalize().Host, appID)
			if err != nil {
				return err
			}
			defer appClient.Close()

			for _, cell := range pending {
				env.logger.Info("calling init", "app_id", appID, "role", cell.Role, "zome", params.Zome)
				if _, err := appClient.CallZome(ctx, cell.CellID, params.Zome, "init", msgpackNil); err != nil {
					return fmt.Errorf("initializing %s/%s: %w", appID, cell.Role, err)
				}
				fmt.Fprintf(env.stdout, "%s: initialized\n", cell.Role)
			}
			return nil
		}),
	}
}
