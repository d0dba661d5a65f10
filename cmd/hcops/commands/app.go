// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/clock"
	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/config"
	"github.com/bureau-foundation/hcops/lib/discover"
	"github.com/bureau-foundation/hcops/lib/endpoint"
	"github.com/bureau-foundation/hcops/lib/storage"
	"github.com/bureau-foundation/hcops/lib/tag"
)

// App holds what the command tree shares across invocations. The zero
// value reads configuration from HCOPS_CONFIG and writes to os.Stdout.
type App struct {
	// ConfigPath names the configuration file. Empty falls back to
	// HCOPS_CONFIG, then to the defaults.
	ConfigPath string

	// Stdout receives command output. Nil means os.Stdout.
	Stdout io.Writer

	// Stdin supplies passphrases when it is not a terminal. Nil means
	// os.Stdin.
	Stdin io.Reader

	// Clock stamps tags and decides peer expiry. Nil means real time.
	Clock clock.Clock
}

// environment is one invocation's view of the App: loaded
// configuration plus constructors for what commands open.
type environment struct {
	config *config.Config
	clock  clock.Clock
	logger *slog.Logger
	stdout io.Writer
	stdin  io.Reader
}

func (a *App) load(logger *slog.Logger) (*environment, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.ConfigPath != "" {
		cfg, err = config.LoadFile(a.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, cli.Wrap(cli.CategoryValidation, err).
			WithHint("Fix the configuration file, or unset " + config.EnvConfig + " to use the defaults.")
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Wrap(cli.CategoryValidation, err)
	}

	env := &environment{
		config: cfg,
		clock:  a.Clock,
		logger: logger,
		stdout: a.stdout(),
		stdin:  a.Stdin,
	}
	if env.clock == nil {
		env.clock = clock.Real()
	}
	if env.stdin == nil {
		env.stdin = os.Stdin
	}
	return env, nil
}

func (a *App) stdout() io.Writer {
	if a.Stdout == nil {
		return os.Stdout
	}
	return a.Stdout
}

// action is a command body run against a loaded environment.
type action func(ctx context.Context, env *environment, args []string) error

// run adapts an action to cli.Command.Run: it loads the environment
// and classifies whatever error the action returns.
func (a *App) run(fn action) func(context.Context, []string, *slog.Logger) error {
	return func(ctx context.Context, args []string, logger *slog.Logger) error {
		env, err := a.load(logger)
		if err != nil {
			return err
		}
		return classify(fn(ctx, env, args))
	}
}

func (e *environment) tags(ctx context.Context) (*tag.Store, error) {
	return tag.Open(ctx, tag.Config{
		Path:   e.config.TagStore,
		Clock:  e.clock,
		Logger: e.logger,
	})
}

func (e *environment) manager() *conductor.Manager {
	return conductor.NewManager(conductor.Config{
		Origin:         e.config.Connection.Origin,
		DialTimeout:    e.config.Connection.DialTimeout.Std(),
		RequestTimeout: e.config.Connection.RequestTimeout.Std(),
		Clock:          e.clock,
		Logger:         e.logger,
	})
}

// admin resolves tagName and opens an admin session to it. The caller
// closes the client.
func (e *environment) admin(ctx context.Context, tagName string) (*conductor.AdminClient, endpoint.Endpoint, error) {
	if tagName == "" {
		return nil, endpoint.Endpoint{}, cli.Validation("--tag is required").
			WithHint("Run 'hcops conductor-tag list' to see known tags.")
	}
	store, err := e.tags(ctx)
	if err != nil {
		return nil, endpoint.Endpoint{}, err
	}
	target, err := store.Resolve(ctx, tagName)
	if err != nil {
		return nil, endpoint.Endpoint{}, err
	}
	session, err := e.manager().Open(ctx, target, conductor.TransportAdmin)
	if err != nil {
		return nil, target, err
	}
	e.logger.Debug("admin session open", "tag", tagName, "endpoint", target.String(), "session_id", session.ID())
	return conductor.NewAdminClient(session, e.config.Connection.ReadRetries), target, nil
}

// scanner builds a process scanner. Names, when given, replace the
// configured signatures with exact process-name matches.
func (e *environment) scanner(names []string) (*discover.Scanner, error) {
	signatures := e.config.Signatures()
	if len(names) > 0 {
		override := *e.config
		override.Discovery.ProcessNames = names
		override.Discovery.Signatures = nil
		signatures = override.Signatures()
	}
	scanner, err := discover.NewScanner(discover.ScannerConfig{
		Enumerator: discover.ProcFS{Root: e.config.Discovery.ProcRoot},
		Signatures: signatures,
		Logger:     e.logger,
	})
	if err != nil {
		return nil, cli.Wrap(cli.CategoryValidation, err)
	}
	return scanner, nil
}

// layout locates the conductor's databases. The flag wins over
// storage.data_root.
func (e *environment) layout(dataRoot string) (storage.Layout, error) {
	if dataRoot == "" {
		dataRoot = e.config.Storage.DataRoot
	}
	if dataRoot == "" {
		return storage.Layout{}, cli.Validation("no conductor data root").
			WithHint("Pass --data-root or set storage.data_root in the configuration file.")
	}
	return storage.Layout{Root: dataRoot}, nil
}

func (e *environment) storageOptions() storage.Options {
	return storage.Options{
		BusyTimeout: e.config.Storage.BusyTimeout.Std(),
		Logger:      e.logger,
	}
}

// tagParams is the --tag flag shared by every command that talks to a
// conductor.
type tagParams struct {
	Tag string `json:"tag" flag:"tag,t" desc:"conductor tag to connect to"`
}

// storageParams is the --data-root flag of commands that read
// conductor databases.
type storageParams struct {
	DataRoot string `json:"data_root" flag:"data-root" desc:"conductor data directory (parent of databases/)"`
}

// expectArgs checks the positional argument count against names.
func expectArgs(args []string, names ...string) error {
	if len(args) == len(names) {
		return nil
	}
	if len(names) == 0 {
		return cli.Validation("unexpected argument %q", args[0])
	}
	if len(args) < len(names) {
		return cli.Validation("missing <%s>", names[len(args)])
	}
	return cli.Validation("unexpected argument %q", args[len(names)])
}
