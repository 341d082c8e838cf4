// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package render

import "github.com/charmbracelet/lipgloss"

// Theme is the color palette used for cell rendering. Colors are ANSI
// 256-color codes.
type Theme struct {
	Text    lipgloss.Color
	Faint   lipgloss.Color
	Heading lipgloss.Color
	Border  lipgloss.Color

	// Prompt colors the execution count in a cell header.
	Prompt lipgloss.Color

	// Running marks a cell whose execution is in progress.
	Running lipgloss.Color

	Stderr lipgloss.Color
	Error  lipgloss.Color
}

// DefaultTheme is tuned for dark terminals.
var DefaultTheme = Theme{
	Text:    lipgloss.Color("252"),
	Faint:   lipgloss.Color("245"),
	Heading: lipgloss.Color("255"),
	Border:  lipgloss.Color("240"),
	Prompt:  lipgloss.Color("75"),  // blue
	Running: lipgloss.Color("220"), // amber
	Stderr:  lipgloss.Color("208"), // orange
	Error:   lipgloss.Color("196"), // red
}
