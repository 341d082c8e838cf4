// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the few time operations that scribe's
// connection supervision depends on: reading the current time, waiting
// for a deadline, and scheduling a callback. Sessions schedule reconnect
// attempts and the registry schedules idle eviction through a Clock, so
// tests can drive every timer deterministically.
//
// Production code uses [Real]. Tests use [Fake], which only moves when
// [FakeClock.Advance] is called:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	registry := session.NewRegistry(session.RegistryConfig{Clock: fake, ...})
//	fake.WaitForTimers(1)
//	fake.Advance(10 * time.Minute) // idle timer fires synchronously here
//
// AfterFunc callbacks registered on a FakeClock run on the goroutine
// calling Advance, never concurrently with each other.
package clock
