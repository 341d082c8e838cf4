// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the scribe binary:
// a tree of [Command] values dispatched by name, pflag flag sets
// parsed per command, help output, typo suggestions, and the output
// helpers shared by every command (JSON encoding, the command logger,
// exit codes).
package cli
