// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package endpoint defines the address of a conductor's control plane.
//
// An [Endpoint] is the unit the tag registry persists, the process
// scanner proposes, and the connection manager dials. It is a plain
// value with no behavior beyond validation and formatting, so every
// package that needs it can import it without pulling in storage or
// transport code.
package endpoint
