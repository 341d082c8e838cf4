// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package spill keeps the full text of cell outputs that were cut down
// by the execution engine's truncation policy.
//
// An agent invoking a cell receives a truncated view of each output so
// a runaway print loop cannot flood its context. The original values
// are written here, addressed by a BLAKE3 keyed hash, and the
// truncation report carries the [Ref] so the agent can fetch the full
// value later even after collaborators have edited or re-run the cell.
//
// Each entry is one file: a 1-byte compression tag, the 4-byte
// big-endian uncompressed length, then the payload. Text compresses
// with zstd, base64 mime payloads (images) with LZ4 block mode, and
// small or incompressible values are stored as-is. Entries are
// immutable; writing the same content twice is a no-op.
package spill
