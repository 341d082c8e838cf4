// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package render draws notebook cells as styled terminal text.
//
// Code cells are syntax-highlighted with Chroma, markdown cells are
// parsed with goldmark and reflowed to the terminal width, and outputs
// are drawn beneath their cell behind a gutter. Styling goes through a
// lipgloss renderer bound to an explicit termenv profile, so callers
// writing to a pipe pass [termenv.Ascii] and get plain text with the
// same layout.
package render
