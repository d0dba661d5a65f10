// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/cmd/hcops/commands"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		// Commands that report through their output (init check,
		// compare) return an ExitError. Don't add an "error:" line.
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global, rest, err := splitGlobal(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &commands.App{ConfigPath: global.configPath}
	return commands.Root(app).Execute(ctx, rest, cli.NewCommandLogger(global.verbose))
}

// globalFlags precede the command name.
type globalFlags struct {
	configPath string
	verbose    bool
}

// splitGlobal consumes leading global flags and returns the rest.
func splitGlobal(args []string) (globalFlags, []string, error) {
	var global globalFlags
	for len(args) > 0 {
		arg := args[0]
		switch {
		case arg == "-v" || arg == "--verbose":
			global.verbose = true
			args = args[1:]
		case arg == "--config":
			if len(args) < 2 {
				return global, nil, cli.Validation("--config needs a path")
			}
			global.configPath = args[1]
			args = args[2:]
		case strings.HasPrefix(arg, "--config="):
			global.configPath = strings.TrimPrefix(arg, "--config=")
			if global.configPath == "" {
				return global, nil, cli.Validation("--config needs a path")
			}
			args = args[1:]
		default:
			return global, args, nil
		}
	}
	return global, args, nil
}
