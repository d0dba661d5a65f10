// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the hcops command tree.
//
// Commands are thin: each loads the configuration, opens what it needs
// (tag store, admin session, storage handles) for the duration of one
// invocation, and renders the result as a table or, with --json, as
// indented JSON. Domain errors are mapped to [cli.ToolError] categories
// with an operator hint on the way out.
package commands
