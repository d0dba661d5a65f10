// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by hcops.
//
// Two things in hcops read the clock: the tag registry stamps creation
// times, and the scanner and connection manager compute deadlines.
// Both take a [Clock] so tests can pin time with [Fake] and release
// deadlines deterministically with [FakeClock.Advance]:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go waitForSomething(c)
//	c.WaitForTimers(1)
//	c.Advance(5 * time.Second)
package clock
