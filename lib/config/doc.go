// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for scribe.
//
// Configuration is loaded from a single file specified by either the
// SCRIBE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search. A missing config
// is not an error for the CLI, which falls back to [Default] plus flags,
// but [Load] itself fails when SCRIBE_CONFIG is unset so callers decide
// that policy explicitly.
//
// Files ending in .json or .jsonc are parsed as JSON with comments and
// trailing commas (via github.com/tidwall/jsonc). Everything else is
// YAML. Durations are Go duration strings ("30s", "5m").
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${SCRIBE_STATE} and ${VAR:-default} patterns are expanded.
//
// This package depends on no other scribe packages.
package config
