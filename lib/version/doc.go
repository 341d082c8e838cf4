// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of the scribe binary.
//
// [Version], [GitCommit], [GitDirty], and [BuildTime] may be injected
// with -ldflags -X. When the commit is not injected it is read from the
// VCS stamp the Go toolchain embeds in module builds, so "go install"
// binaries still identify their revision.
package version
