// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the few helpers shared by hcops tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve used when a test waits on a goroutine, and [Eventually]
// polls a condition. They are the only place tests touch the wall
// clock; everything they guard is driven by channels or a fake clock,
// so the timeouts only fire when a test is already broken.
package testutil
