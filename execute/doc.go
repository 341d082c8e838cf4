// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package execute runs code on a kernel and streams the resulting
// outputs into a notebook cell.
//
// [Engine.Run] sends one execute request, applies every iopub message
// to a [Target] as it arrives (one document transaction per message),
// and returns a [Result] once the kernel has replied and gone idle.
// Exceptions raised by the code are ordinary error outputs, not Go
// errors. Go errors are reserved for engine failures: a dropped kernel
// connection, the execution timeout, or cancellation. In those cases
// the target still receives exactly one synthesized error output and
// is always returned to idle.
//
// The Result carries a truncated copy of the outputs. Each textual
// value longer than the configured limit is cut to the limit plus
// [TruncationMarker], the full value is written to the spill store, and
// the report lists where each cut happened. The document itself keeps
// the complete outputs.
package execute
