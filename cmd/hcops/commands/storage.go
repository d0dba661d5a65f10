// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/secret"
	"github.com/bureau-foundation/hcops/lib/storage"
)

func storageCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:    "storage",
		Summary: "Conductor database utilities",
		Subcommands: []*cli.Command{
			storageKeyCommand(app),
		},
	}
}

type storageKeyParams struct {
	storageParams
}

func storageKeyCommand(app *App) *cli.Command {
	var params storageKeyParams
	return &cli.Command{
		Name:    "key",
		Summary: "Print the sqlcipher pragmas for encrypted databases",
		Usage:   "hcops storage key [--data-root DIR] < passphrase",
		Description: `Unlock the conductor's databases/db.key with its passphrase and print
the PRAGMA statements that open its encrypted databases in sqlcipher.
The passphrase is read from the terminal without echo, or as the first
line of standard input.

The output is the database key. Treat it as you would the passphrase.`,
		Examples: []cli.Example{
			{Description: "Open a DHT database in sqlcipher", Command: "hcops storage key --data-root ~/.holochain/alice > pragmas.sql && sqlcipher -init pragmas.sql databases/dht/uhC0k..."},
		},
		Params: func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			layout, err := env.layout(params.DataRoot)
			if err != nil {
				return err
			}
			path := layout.KeyFile()
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				return cli.NotFound("no database key at %s", path).
					WithHint("Conductors without a passphrase keep plaintext databases; read them with 'hcops explore'.")
			}

			passphrase, err := secret.ReadPassphrase(env.stdin, os.Stderr, "Conductor passphrase: ")
			if err != nil {
				return cli.Wrap(cli.CategoryValidation, err)
			}
			defer passphrase.Close()
			if !passphrase.Locked() {
				env.logger.Debug("passphrase buffer not locked in memory")
			}

			key, err := storage.UnlockDatabaseKey(path, passphrase.Bytes())
			if err != nil {
				return err
			}
			fmt.Fprint(env.stdout, storage.KeyPragmas(key))
			return nil
		}),
	}
}
