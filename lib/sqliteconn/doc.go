// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqliteconn is the one place hcops opens SQLite databases.
//
// hcops touches two kinds of database with opposite requirements:
//
//   - Its own tag store, which it owns. [OpenReadWrite] applies the
//     standard pragmas (WAL journal, NORMAL synchronous, a busy
//     timeout long enough to ride out another hcops invocation's
//     transaction) and [Migrate] brings the schema forward.
//   - A conductor's databases, which it must never modify and which a
//     live conductor may be writing. [OpenReadOnly] opens through a
//     mode=ro URI, applies a short busy timeout, and forces a first
//     read so that lock contention and non-database files surface at
//     open rather than mid-query.
//
// Connections are single-use. There is no pool: each hcops command
// opens what it needs, does one unit of work, and closes. Callers use
// zombiezen's sqlitex helpers directly for statements and
// transactions.
package sqliteconn
