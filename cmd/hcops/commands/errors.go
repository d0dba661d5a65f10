// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/discover"
	"github.com/bureau-foundation/hcops/lib/inspect"
	"github.com/bureau-foundation/hcops/lib/storage"
	"github.com/bureau-foundation/hcops/lib/tag"
)

// classify maps domain errors to tool error categories with an
// operator hint. Errors that are already categorized, and errors no
// component claims, pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var (
		toolErr    *cli.ToolError
		exitErr    *cli.ExitError
		inspectErr *inspect.Error
		ambiguous  *discover.AmbiguousError
		tagErr     *tag.Error
		connErr    *conductor.Error
		storageErr *storage.Error
	)
	switch {
	case errors.As(err, &toolErr), errors.As(err, &exitErr):
		return err

	// Both legs failed; the leg errors sit underneath, so this case
	// must come before the per-component ones.
	case errors.As(err, &inspectErr):
		return cli.Wrap(cli.CategoryTransient, err).
			WithHint("Neither the conductor nor its databases could be read. Check that the conductor is running and that --data-root points at its data directory.")

	case errors.As(err, &ambiguous):
		if errors.Is(err, conductor.ErrHandshakeFailed) {
			return cli.Wrap(cli.CategoryForbidden, err).
				WithHint("A port answered but refused an admin session. Check connection.origin against the conductor's allowed origins, or pass --addr and --port.")
		}
		return cli.Wrap(cli.CategoryTransient, err).
			WithHint("No listening port answered as an admin interface. The conductor may still be starting; retry, or pass --addr and --port.")

	case errors.As(err, &tagErr):
		return classifyTag(err, tagErr)

	case errors.As(err, &connErr):
		return classifyConductor(err, connErr)

	case errors.As(err, &storageErr):
		return classifyStorage(err, storageErr)

	case errors.Is(err, storage.ErrWrongPassphrase):
		return cli.Wrap(cli.CategoryValidation, err).
			WithHint("The passphrase is the one the conductor was started with.")
	}
	return err
}

func classifyTag(err error, tagErr *tag.Error) error {
	switch tagErr.Kind {
	case tag.KindNotFound:
		return cli.Wrap(cli.CategoryNotFound, err).
			WithHint("Run 'hcops conductor-tag list' or 'hcops agent-tag list' to see known tags.")
	case tag.KindDuplicateName:
		return cli.Wrap(cli.CategoryConflict, err).
			WithHint("Delete the existing tag first, or choose another name.")
	case tag.KindInvalidName:
		return cli.Wrap(cli.CategoryValidation, err).
			WithHint(fmt.Sprintf("Tag names must be non-empty and at most %d bytes without whitespace.", tag.MaxNameLength))
	case tag.KindStoreCorrupt:
		return cli.Wrap(cli.CategoryInternal, err).
			WithHint(fmt.Sprintf("Move %s aside or delete it to start a fresh tag store.", tagErr.Path))
	}
	return cli.Wrap(cli.CategoryInternal, err)
}

func classifyConductor(err error, connErr *conductor.Error) error {
	switch connErr.Kind {
	case conductor.KindConnectionRefused:
		return cli.Wrap(cli.CategoryTransient, err).
			WithHint(fmt.Sprintf("Nothing is listening at %s. Check that the conductor is running, or tag its new port with 'hcops conductor-tag add'.", connErr.Endpoint.AdminAddress()))
	case conductor.KindTimeout:
		return cli.Wrap(cli.CategoryTransient, err).
			WithHint("The conductor did not answer in time. Retry, or raise connection.request_timeout.")
	case conductor.KindHandshakeFailed:
		return cli.Wrap(cli.CategoryForbidden, err).
			WithHint("The port answered but did not accept the session. Check that it is the admin port and that connection.origin is allowed.")
	case conductor.KindClosed:
		return cli.Wrap(cli.CategoryTransient, err).
			WithHint("The conductor closed the connection. Retry once it is running again.")
	case conductor.KindProtocol:
		return cli.Wrap(cli.CategoryInternal, err).
			WithHint("The conductor sent a frame hcops could not decode. It may be running an incompatible version.")
	case conductor.KindRemote:
		var remote *conductor.RemoteError
		if errors.As(err, &remote) && remote.Type == "app_not_installed" {
			return cli.Wrap(cli.CategoryNotFound, err).
				WithHint("Run 'hcops admin --tag T list-apps' to see installed apps.")
		}
		return cli.Wrap(cli.CategoryInternal, err)
	}
	return cli.Wrap(cli.CategoryInternal, err)
}

func classifyStorage(err error, storageErr *storage.Error) error {
	switch storageErr.Kind {
	case storage.KindNotFound:
		return cli.Wrap(cli.CategoryNotFound, err).
			WithHint("Check that --data-root points at the conductor's data directory.")
	case storage.KindLocked:
		return cli.Wrap(cli.CategoryTransient, err).
			WithHint("The conductor holds an exclusive lock on this database. Retry in a moment.")
	case storage.KindSchemaMismatch:
		return cli.Wrap(cli.CategoryInternal, err).
			WithHint("The database layout is not one hcops can read. The conductor may be a different version.")
	case storage.KindEncrypted:
		return cli.Wrap(cli.CategoryInternal, err).
			WithHint("The databases are encrypted. 'hcops storage key --data-root DIR' prints the key pragmas for sqlcipher.")
	}
	return cli.Wrap(cli.CategoryInternal, err)
}
