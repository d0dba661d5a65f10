// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/discover"
	"github.com/bureau-foundation/hcops/lib/endpoint"
)

type discoverParams struct {
	cli.JSONOutput
	Name []string `json:"name" flag:"name" desc:"match these process names instead of the configured signatures"`
}

// discoveredProcess is one row of discover output.
type discoveredProcess struct {
	discover.Process
	AdminPort *uint16  `json:"admin_port,omitempty"`
	Tags      []string `json:"tags"`
}

type discoverOutput struct {
	Processes   []discoveredProcess   `json:"processes"`
	Diagnostics []discover.Diagnostic `json:"diagnostics"`
}

func discoverCommand(app *App) *cli.Command {
	var params discoverParams
	return &cli.Command{
		Name:    "discover",
		Summary: "Find running conductor processes",
		Description: `Scan local processes for conductors and list their listening ports.
A process with one listening port shows it as the admin port; with
several the admin port is "ambiguous" until 'hcops conductor-tag add
--pid' probes them. Tags already bound to a process's endpoint are shown
alongside.

Processes that could not be read are reported as diagnostics rather
than failing the scan.`,
		Examples: []cli.Example{
			{Description: "List conductors", Command: "hcops discover"},
			{Description: "Match a renamed binary", Command: "hcops discover --name my-conductor"},
		},
		Params: func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			scanner, err := env.scanner(params.Name)
			if err != nil {
				return err
			}
			store, err := env.tags(ctx)
			if err != nil {
				return err
			}

			result := scanner.Scan(ctx)
			output := discoverOutput{
				Processes:   make([]discoveredProcess, 0, len(result.Processes)),
				Diagnostics: result.Diagnostics,
			}
			for _, process := range result.Processes {
				entry := discoveredProcess{Process: process, Tags: []string{}}
				if port, ok := process.AdminPort(); ok {
					entry.AdminPort = &port
					names, err := store.NamesFor(ctx, endpoint.New(port))
					if err != nil {
						return err
					}
					entry.Tags = append(entry.Tags, names...)
				}
				output.Processes = append(output.Processes, entry)
			}
			if output.Diagnostics == nil {
				output.Diagnostics = []discover.Diagnostic{}
			}

			if done, err := params.EmitJSON(env.stdout, output); done {
				return err
			}

			style := newStyles(env.stdout)
			if len(output.Processes) == 0 {
				fmt.Fprintln(env.stdout, "No conductor processes found")
			} else {
				table := newTable(env.stdout, "PID", "EXECUTABLE", "PORTS", "ADMIN PORT", "TAGS")
				for _, entry := range output.Processes {
					adminPort := "ambiguous"
					if entry.AdminPort != nil {
						adminPort = fmt.Sprint(*entry.AdminPort)
					}
					row(table,
						fmt.Sprint(entry.PID),
						orDash(entry.Executable),
						formatPorts(entry.ListeningPorts),
						adminPort,
						orDash(strings.Join(entry.Tags, ",")))
				}
				if err := table.Flush(); err != nil {
					return err
				}
			}
			for _, diagnostic := range output.Diagnostics {
				fmt.Fprintln(env.stdout, style.faint.Render("note: "+diagnostic.String()))
			}
			return nil
		}),
	}
}
