// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command represents a CLI command or subcommand.
type Command struct {
	// Name is the command name as typed by the user (e.g., "admin", "list-apps").
	Name string

	// Summary is a one-line description shown in the parent's help listing.
	Summary string

	// Description is a detailed multi-line description shown in the command's
	// own help output.
	Description string

	// Usage is the usage string (e.g., "hcops admin --tag T list-apps").
	// If empty, it is synthesized from the command path and subcommands.
	Usage string

	// Examples are shown in the help output after the description.
	Examples []Example

	// Flags returns a configured *pflag.FlagSet for this command. Called
	// lazily on first use. Takes precedence over Params.
	Flags func() *pflag.FlagSet

	// Params returns a pointer to the command's params struct. Its
	// tagged fields become flags (see BindFlags) and are populated
	// before Run is called.
	Params func() any

	// Subcommands are nested commands dispatched by the first positional arg.
	Subcommands []*Command

	// Run executes the command with the remaining args (after flag parsing).
	// If both Run and Subcommands are set, Run is used when no
	// subcommand matches. The logger is scoped with the command path.
	Run func(ctx context.Context, args []string, logger *slog.Logger) error

	// parent is set during dispatch to build the full command path for help.
	parent *Command
}

// Example is a usage example shown in help output.
type Example struct {
	// Description explains what the example does.
	Description string
	// Command is the literal command line.
	Command string
}

// Execute parses args and dispatches to the appropriate subcommand or Run
// function. This is the main entry point for the command tree. A nil
// logger discards.
//
// A command with subcommands may also declare flags. Those flags come
// before the subcommand name ("hcops admin --tag T list-apps") and
// parsing stops at the first positional argument.
func (c *Command) Execute(ctx context.Context, args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(os.Stderr)
		return nil
	}

	if len(c.Subcommands) == 0 {
		rest, err := c.parseFlags(args, true)
		if err != nil || rest == nil {
			return err
		}
		if c.Run == nil {
			c.PrintHelp(os.Stderr)
			return fmt.Errorf("no action defined for %q", c.fullName())
		}
		return c.Run(ctx, rest, logger.With("command", c.path()))
	}

	args, err := c.parseFlags(args, false)
	if err != nil || args == nil {
		return err
	}
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(os.Stderr)
		return nil
	}

	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name := args[0]
		for _, sub := range c.Subcommands {
			if sub.Name == name {
				sub.parent = c
				return sub.Execute(ctx, args[1:], logger)
			}
		}

		if c.Run == nil {
			suggestion := suggestCommand(name, c.Subcommands)
			if suggestion != "" {
				return Validation("unknown command %q (did you mean %q?)\n\nRun '%s --help' for usage.",
					name, suggestion, c.fullName())
			}
			return Validation("unknown command %q\n\nRun '%s --help' for usage.",
				name, c.fullName())
		}
	}

	if c.Run == nil {
		c.PrintHelp(os.Stderr)
		if len(args) == 0 {
			return Validation("subcommand required")
		}
		return Validation("subcommand required (got flag %q)", args[0])
	}
	return c.Run(ctx, args, logger.With("command", c.path()))
}

// parseFlags parses the command's flags and returns the remaining
// arguments. A nil slice with a nil error means help was printed. When
// interspersed is false, parsing stops at the first positional
// argument.
func (c *Command) parseFlags(args []string, interspersed bool) ([]string, error) {
	flagSet := c.flagSet()
	if flagSet == nil {
		if args == nil {
			return []string{}, nil
		}
		return args, nil
	}

	// Errors are formatted below with suggestions.
	flagSet.SetOutput(io.Discard)
	flagSet.SetInterspersed(interspersed)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			c.PrintHelp(os.Stderr)
			return nil, nil
		}
		message := err.Error()
		if strings.Contains(message, "unknown flag") || strings.Contains(message, "unknown shorthand") {
			// The failed parse may have consumed state, so look the
			// suggestion up in a fresh set.
			if suggestion := suggestFlag(args, c.flagSet()); suggestion != "" {
				return nil, Validation("%s (did you mean %s?)\n\nRun '%s --help' for usage.",
					message, suggestion, c.fullName())
			}
		}
		return nil, Validation("%s\n\nRun '%s --help' for usage.", message, c.fullName())
	}
	return flagSet.Args(), nil
}

// flagSet builds the command's flags, or nil when it has none.
func (c *Command) flagSet() *pflag.FlagSet {
	switch {
	case c.Flags != nil:
		return c.Flags()
	case c.Params != nil:
		return FlagsFromParams(c.Name, c.Params())
	default:
		return nil
	}
}

// PrintHelp writes structured help output to w.
func (c *Command) PrintHelp(w io.Writer) {
	name := c.fullName()

	if c.Description != "" {
		fmt.Fprintf(w, "%s\n\n", c.Description)
	} else if c.Summary != "" {
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}

	if c.Usage != "" {
		fmt.Fprintf(w, "Usage:\n  %s\n", c.Usage)
	} else if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "Usage:\n  %s <command> [flags]\n", name)
	} else {
		fmt.Fprintf(w, "Usage:\n  %s [flags]\n", name)
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		tw.Flush()
	}

	if flagSet := c.flagSet(); flagSet != nil {
		if usage := flagSet.FlagUsages(); usage != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", usage)
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "\nExamples:\n")
		for _, example := range c.Examples {
			if example.Description != "" {
				fmt.Fprintf(w, "  # %s\n", example.Description)
			}
			fmt.Fprintf(w, "  %s\n", example.Command)
			if example.Description != "" {
				fmt.Fprintln(w)
			}
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", name)
	}
}

// fullName returns the complete command path (e.g., "hcops admin list-apps").
func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

// path returns the command path below the root joined by "/", the
// form used in log records (e.g., "admin/list-apps").
func (c *Command) path() string {
	if c.parent == nil {
		return c.Name
	}
	if c.parent.parent == nil {
		return c.Name
	}
	return c.parent.path() + "/" + c.Name
}

// isHelpFlag returns true for common help flag variants.
func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
