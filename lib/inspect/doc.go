// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package inspect builds per-cell reports for a tagged conductor by
// combining what the conductor says over its admin interface (the live
// leg) with what its databases hold on disk (the storage leg).
//
// The two legs answer different questions and are reported side by
// side, never merged into one number: storage counts say what has been
// durably integrated, the live view says which peers are currently
// known. Either leg may fail on its own; the report then carries the
// other leg and an annotation. Only when both fail does [Inspector.Inspect]
// return an [*Error].
package inspect
