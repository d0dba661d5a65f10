// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/discover"
	"github.com/bureau-foundation/hcops/lib/endpoint"
	"github.com/bureau-foundation/hcops/lib/holohash"
)

func conductorTagCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:    "conductor-tag",
		Summary: "Name conductor endpoints",
		Description: `Conductor tags give a conductor's admin endpoint a short name that
every other command accepts through --tag. Tags are stored in the tag
store file (tag_store in the configuration, or HCOPS_TAG_STORE).`,
		Subcommands: []*cli.Command{
			conductorTagAddCommand(app),
			conductorTagListCommand(app),
			conductorTagDeleteCommand(app),
		},
	}
}

type conductorTagAddParams struct {
	Addr    string   `json:"addr"     flag:"addr"     desc:"conductor host for --port (default 127.0.0.1)"`
	Port    uint16   `json:"port"     flag:"port,p"   desc:"admin port (manual registration)"`
	AppPort uint16   `json:"app_port" flag:"app-port" desc:"app interface port, if one is already attached"`
	Name    []string `json:"name"     flag:"name"     desc:"discover by process name instead of --port"`
	PID     int      `json:"pid"      flag:"pid"      desc:"discover the process with this pid"`
}

func conductorTagAddCommand(app *App) *cli.Command {
	var params conductorTagAddParams
	return &cli.Command{
		Name:    "add",
		Summary: "Tag a conductor endpoint",
		Usage:   "hcops conductor-tag add <tag> (--port PORT | --name NAME | --pid PID)",
		Description: `Register an endpoint under a tag. With --port the endpoint is taken as
given. With --name or --pid the local processes are scanned and each
listening port of the chosen process is probed until one answers as an
admin interface.`,
		Examples: []cli.Example{
			{Description: "Tag a conductor by port", Command: "hcops conductor-tag add alice --port 8888"},
			{Description: "Tag the only running conductor", Command: "hcops conductor-tag add alice --name holochain"},
			{Description: "Tag one of several conductors", Command: "hcops conductor-tag add bob --pid 4242"},
		},
		Params: func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args, "tag"); err != nil {
				return err
			}
			name := args[0]

			discovering := len(params.Name) > 0 || params.PID != 0
			if discovering && params.Port != 0 {
				return cli.Validation("--port cannot be combined with --name or --pid")
			}
			if discovering && params.Addr != "" {
				return cli.Validation("--addr cannot be combined with --name or --pid; discovery dials the address the process listens on")
			}
			if !discovering && params.Port == 0 {
				return cli.Validation("one of --port, --name or --pid is required")
			}

			var (
				target endpoint.Endpoint
				err    error
			)
			if discovering {
				target, err = discoverEndpoint(ctx, env, params.Name, params.PID)
				if err != nil {
					return err
				}
			} else {
				host := params.Addr
				if host == "" {
					host = endpoint.DefaultHost
				}
				target = endpoint.Endpoint{Host: host, AdminPort: params.Port}
			}
			if params.AppPort != 0 {
				target = target.WithAppPort(params.AppPort)
			}
			if err := target.Validate(); err != nil {
				return cli.Wrap(cli.CategoryValidation, err)
			}

			store, err := env.tags(ctx)
			if err != nil {
				return err
			}
			if err := store.Add(ctx, name, target); err != nil {
				return err
			}
			fmt.Fprintf(env.stdout, "Added tag: %s (%s)\n", name, target)
			return nil
		}),
	}
}

// discoverEndpoint scans for conductor processes, picks one by pid or
// requires there to be exactly one, and probes it for its admin port.
func discoverEndpoint(ctx context.Context, env *environment, names []string, pid int) (endpoint.Endpoint, error) {
	scanner, err := env.scanner(names)
	if err != nil {
		return endpoint.Endpoint{}, err
	}
	result := scanner.Scan(ctx)
	for _, diagnostic := range result.Diagnostics {
		env.logger.Info("scan diagnostic", "pid", diagnostic.PID, "message", diagnostic.Message)
	}

	var process discover.Process
	switch {
	case pid != 0:
		found := false
		for _, candidate := range result.Processes {
			if candidate.PID == pid {
				process, found = candidate, true
				break
			}
		}
		if !found {
			return endpoint.Endpoint{}, cli.NotFound("no conductor process with pid %d and a listening socket", pid).
				WithHint("Run 'hcops discover' to see the processes that were found.")
		}
	case len(result.Processes) == 0:
		return endpoint.Endpoint{}, cli.NotFound("no conductor processes found").
			WithHint(scanHint(result))
	case len(result.Processes) > 1:
		pids := make([]string, len(result.Processes))
		for i, candidate := range result.Processes {
			pids[i] = fmt.Sprint(candidate.PID)
		}
		return endpoint.Endpoint{}, cli.Validation("%d conductor processes found (pids %s)", len(pids), strings.Join(pids, ", ")).
			WithHint("Choose one with --pid.")
	default:
		process = result.Processes[0]
	}

	prober := conductor.AdminProber{Manager: env.manager()}
	return discover.ProbeAdminPort(ctx, process, prober, discover.ProbeOptions{
		Timeout: env.config.Connection.DialTimeout.Std(),
	})
}

func scanHint(result discover.Result) string {
	if len(result.Diagnostics) == 0 {
		return "Check that the conductor is running, or pass --port."
	}
	lines := make([]string, 0, len(result.Diagnostics)+1)
	lines = append(lines, "The scan reported:")
	for _, diagnostic := range result.Diagnostics {
		lines = append(lines, "  "+diagnostic.String())
	}
	return strings.Join(lines, "\n")
}

type conductorTagListParams struct {
	cli.JSONOutput
}

func conductorTagListCommand(app *App) *cli.Command {
	var params conductorTagListParams
	return &cli.Command{
		Name:    "list",
		Summary: "List conductor tags",
		Params:  func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			store, err := env.tags(ctx)
			if err != nil {
				return err
			}
			tags, err := store.List(ctx)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.stdout, tags); done {
				return err
			}
			if len(tags) == 0 {
				fmt.Fprintln(env.stdout, "No conductor tags")
				return nil
			}

			table := newTable(env.stdout, "TAG", "HOST", "ADMIN PORT", "APP PORT", "CREATED")
			for _, entry := range tags {
				target := entry.Endpoint.Normalize()
				appPort := "-"
				if target.AppPort != nil {
					appPort = fmt.Sprint(*target.AppPort)
				}
				row(table, entry.Name, target.Host, fmt.Sprint(target.AdminPort), appPort, formatTime(entry.CreatedAt))
			}
			return table.Flush()
		}),
	}
}

func conductorTagDeleteCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete a conductor tag",
		Usage:   "hcops conductor-tag delete <tag>",
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args, "tag"); err != nil {
				return err
			}
			store, err := env.tags(ctx)
			if err != nil {
				return err
			}
			if err := store.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(env.stdout, "Deleted tag: %s\n", args[0])
			return nil
		}),
	}
}

func agentTagCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:    "agent-tag",
		Summary: "Name agent public keys",
		Description: `Agent tags label agent keys in peer listings, chain dumps and
inspection reports.`,
		Subcommands: []*cli.Command{
			agentTagAddCommand(app),
			agentTagListCommand(app),
			agentTagDeleteCommand(app),
		},
	}
}

func agentTagAddCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:    "add",
		Summary: "Tag an agent key",
		Usage:   "hcops agent-tag add <agent> <tag>",
		Examples: []cli.Example{
			{Description: "Name Alice's agent", Command: "hcops agent-tag add uhCAk... alice"},
		},
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args, "agent", "tag"); err != nil {
				return err
			}
			agent, err := holohash.ParseKind(args[0], holohash.KindAgent)
			if err != nil {
				return cli.Wrap(cli.CategoryValidation, err).
					WithHint("Agent keys are printed by 'hcops admin --tag T list-apps' and start with uhCAk.")
			}
			store, err := env.tags(ctx)
			if err != nil {
				return err
			}
			if err := store.AddAgent(ctx, args[1], agent); err != nil {
				return err
			}
			fmt.Fprintf(env.stdout, "Added agent tag: %s\n", args[1])
			return nil
		}),
	}
}

type agentTagListParams struct {
	cli.JSONOutput
}

func agentTagListCommand(app *App) *cli.Command {
	var params agentTagListParams
	return &cli.Command{
		Name:    "list",
		Summary: "List agent tags",
		Params:  func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			store, err := env.tags(ctx)
			if err != nil {
				return err
			}
			tags, err := store.ListAgents(ctx)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.stdout, tags); done {
				return err
			}
			if len(tags) == 0 {
				fmt.Fprintln(env.stdout, "No agent tags")
				return nil
			}

			table := newTable(env.stdout, "TAG", "AGENT", "CREATED")
			for _, entry := range tags {
				row(table, entry.Name, entry.Agent.String(), formatTime(entry.CreatedAt))
			}
			return table.Flush()
		}),
	}
}

func agentTagDeleteCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete an agent tag",
		Usage:   "hcops agent-tag delete <tag>",
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args, "tag"); err != nil {
				return err
			}
			store, err := env.tags(ctx)
			if err != nil {
				return err
			}
			if err := store.RemoveAgent(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(env.stdout, "Deleted agent tag: %s\n", args[0])
			return nil
		}),
	}
}
