// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for scribe packages.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls. They are the only place
// in the test suite where real wall-clock timeouts are used; all
// reconnect, idle, and sync timing runs on the fake clock.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation, e.g. notebook paths that must not collide across
// parallel tests sharing one fake server.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
