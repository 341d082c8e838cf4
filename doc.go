// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package scribe lets an agent edit and run a live Jupyter notebook
// that humans are editing at the same time.
//
// [Service] is the outward API. Every operation names a notebook by
// path; the session for that path is opened and synchronized on first
// use and kept in a [session.Registry] until it has been idle for the
// configured window. Cell indexes are resolved to stable cell ids
// inside the same document transaction that applies the change, so a
// collaborator inserting cells concurrently cannot redirect an edit.
//
// Every failure is an [*OpError] whose [ErrorKind] tells the caller
// whether to retry, fix the input, or give up. Code that raises an
// exception is not a failure: the exception is an error output in the
// execution result, exactly as a human would see it in the notebook.
//
// [NewFromConfig] assembles a Service from a [config.Config]: auth
// context, Jupyter client, spill and watchdog stores, metrics, session
// registry, and execution engine.
package scribe
