// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session supervises live connections between local notebook
// replicas and their collaboration rooms.
//
// A [Session] owns one [notebook.Document], at most one [collab.Link],
// and, for notebooks, an optional [KernelBinding]. Its connection
// status is a single [State] value changed only under the session's
// mutex; transport events carry the generation of the link that
// produced them and are dropped once that link has been replaced or
// torn down, so a late event can never resurrect a closed session.
//
// Lost links are retried on the [backoff.Controller] schedule using the
// injected [clock.Clock]. When the attempt budget is spent the session
// settles in [Disconnected] with no timers pending; the next call to
// [Session.EnsureSynchronized] starts over.
//
// [Registry] maps notebook paths to sessions. Creation is single-flight
// per path, entries appear only once their session has synchronized,
// and every entry has an idle timer that each operation re-arms. An
// idle timeout closes the session exactly like [Registry.Close]: the
// room link and the kernel binding are both disposed. The kernel
// process on the server keeps running.
package session
