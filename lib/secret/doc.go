// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds passphrases and key material outside the Go
// heap.
//
// A [Buffer] is an anonymous mmap region, excluded from core dumps and
// locked into RAM where RLIMIT_MEMLOCK allows. Close zeroes and unmaps
// it. The garbage collector never sees the region, so it cannot leave
// copies behind.
//
// [ReadPassphrase] reads a conductor passphrase from a terminal
// without echo, or one line from a pipe, straight into a Buffer.
package secret
