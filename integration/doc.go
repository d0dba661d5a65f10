// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration holds end-to-end tests that run discovery, the
// tag registry, the connection manager and the storage reader together
// against a fake conductor, a fixture process table and fixture
// databases. The package has no non-test code.
package integration
