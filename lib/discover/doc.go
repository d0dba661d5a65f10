// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package discover finds conductor processes on the local machine and
// the TCP ports they listen on.
//
// A [Scanner] walks the process table through a [ProcessEnumerator]
// ([ProcFS] in production, reading /proc with prometheus/procfs),
// keeps processes whose executable name, comm, or any argument matches
// a signature, and annotates each with its listening TCP ports.
// Processes with no listening socket are dropped: they cannot be
// conductors an operator could connect to.
//
// Scanning is read-only and never fatal. A process that exits
// mid-scan, or whose file descriptors belong to another user, is
// skipped with a [Diagnostic]. If the process table itself cannot be
// read, [Scanner.Scan] returns no processes and a diagnostic saying
// why.
//
// A conductor usually listens on more than one port: the admin
// interface plus any app interfaces. [ProbeAdminPort] narrows the set
// by asking each port for its app list through the connection
// manager.
package discover
