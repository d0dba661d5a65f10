// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the hcops binary.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected at
// build time:
//
//	go build -ldflags "-X github.com/bureau-foundation/hcops/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When they are not injected (go install, test runs) [Current] falls
// back to the VCS stamp the Go toolchain embeds in the binary.
package version
