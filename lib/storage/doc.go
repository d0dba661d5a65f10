// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage reads a conductor's on-disk databases without
// writing to them.
//
// A conductor keeps three SQLite databases per cell under its data
// root: the authored database (the agent's own source chain and the
// ops it has produced), the DHT database (ops this node holds as an
// authority) and the cache. [Open] opens one of them read-only and
// verifies the tables and columns the queries rely on before
// returning a [Handle]. Every query is a single-pass aggregation or a
// bounded scan; nothing is cached between calls.
//
// The conductor may be running while a handle is open. Reads bound
// lock waits with a short busy timeout and report [KindLocked] rather
// than retrying.
package storage
