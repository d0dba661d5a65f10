// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for hcops.
//
// The central type is [Command], a named node with optional nested
// [Command.Subcommands], flags bound from a params struct (see
// [BindFlags]) and a Run function. [Command.Execute] routes the
// subcommand, parses flags and prints structured help. Unknown
// commands and flags get a Levenshtein suggestion (distance <= 3).
//
// Commands report failures as [ToolError] values: a category the
// caller can act on (fix input, retry, report) plus an optional
// operator hint printed under the message. [ExitError] requests a
// non-zero exit for commands that already wrote their own output.
package cli
