// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tag persists operator-chosen names for conductor endpoints
// and agent keys.
//
// A tag is how an operator refers to a conductor across commands:
// "hcops admin --tag staging list-apps" resolves "staging" to the
// endpoint stored when the tag was added. Tags are durable, unique by
// name, and never edited in place: pointing a name elsewhere means
// deleting and re-adding it. The same endpoint may carry any number of
// names.
//
// Agent tags do the same for agent public keys, so reports can label
// peers with names instead of 53-character hashes. One agent key has
// at most one tag.
//
// # Concurrency
//
// Several hcops invocations may run against the same store. The store
// holds no connection between calls: every operation opens a
// connection, runs one IMMEDIATE transaction, and closes. SQLite's
// file locking is the only coordination. [Open] applies schema
// migrations once; a store written by a newer hcops, or a file that is
// not a database at all, fails with [ErrStoreCorrupt].
package tag
