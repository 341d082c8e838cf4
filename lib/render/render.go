// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/bureau-foundation/scribe/notebook"
)

// DefaultWidth is used when Options.Width is not positive.
const DefaultWidth = 80

const (
	gutter      = "│ "
	gutterWidth = 2
)

// Options configures a Renderer.
type Options struct {
	// Width is the terminal width in columns.
	Width int

	// Profile selects the color depth; the zero value is TrueColor.
	// termenv.Ascii disables styling and syntax highlighting entirely.
	Profile termenv.Profile

	// Theme defaults to DefaultTheme when nil.
	Theme *Theme

	// Language names the Chroma lexer for code cells. Defaults to
	// "python".
	Language string
}

// Renderer turns cells and outputs into styled text. It is not safe
// for concurrent use.
type Renderer struct {
	width    int
	profile  termenv.Profile
	theme    Theme
	language string
	lip      *lipgloss.Renderer
}

// New returns a Renderer whose styles target output.
func New(output io.Writer, options Options) *Renderer {
	width := options.Width
	if width <= 0 {
		width = DefaultWidth
	}
	theme := DefaultTheme
	if options.Theme != nil {
		theme = *options.Theme
	}
	language := options.Language
	if language == "" {
		language = "python"
	}

	// SetColorProfile pins the profile; otherwise lipgloss re-detects
	// it from the environment on first use.
	lip := lipgloss.NewRenderer(output, termenv.WithProfile(options.Profile))
	lip.SetColorProfile(options.Profile)

	return &Renderer{
		width:    width,
		profile:  options.Profile,
		theme:    theme,
		language: language,
		lip:      lip,
	}
}

func (r *Renderer) style(color lipgloss.Color) lipgloss.Style {
	return r.lip.NewStyle().Foreground(color)
}

// Cell renders one cell: a header line, the source, and for code
// cells the outputs.
func (r *Renderer) Cell(index int, cell notebook.Cell) string {
	var builder strings.Builder
	builder.WriteString(r.header(index, cell))
	builder.WriteString("\n")

	var body string
	switch cell.Type {
	case notebook.Code:
		body = r.Code(cell.Source)
	case notebook.Markdown:
		body = r.Markdown(cell.Source)
	default:
		body = r.style(r.theme.Faint).Render(cell.Source)
	}
	if body != "" {
		builder.WriteString(body)
		builder.WriteString("\n")
	}

	for _, output := range cell.Outputs {
		if rendered := r.Output(output); rendered != "" {
			builder.WriteString(rendered)
			builder.WriteString("\n")
		}
	}
	return builder.String()
}

func (r *Renderer) header(index int, cell notebook.Cell) string {
	label := fmt.Sprintf("[%d] %s", index, cell.Type)
	parts := []string{r.style(r.theme.Heading).Bold(true).Render(label)}

	if cell.Type == notebook.Code {
		switch {
		case cell.ExecutionState == notebook.Running:
			parts = append(parts, r.style(r.theme.Running).Render("In [*]"))
		case cell.ExecutionCount != nil:
			parts = append(parts, r.style(r.theme.Prompt).Render(fmt.Sprintf("In [%d]", *cell.ExecutionCount)))
		default:
			parts = append(parts, r.style(r.theme.Faint).Render("In [ ]"))
		}
	}
	parts = append(parts, r.style(r.theme.Faint).Render(cell.ID))

	line := strings.Join(parts, "  ")
	if remaining := r.width - ansi.StringWidth(line) - 1; remaining > 0 {
		line += " " + r.style(r.theme.Border).Render(strings.Repeat("─", remaining))
	}
	return ansi.Truncate(line, r.width, "…")
}

// Code syntax-highlights source with the configured lexer. Lines are
// truncated, not wrapped, so indentation survives.
func (r *Renderer) Code(source string) string {
	if source == "" {
		return ""
	}
	highlighted := source
	if formatter := chromaFormatter(r.profile); formatter != "" {
		var buffer strings.Builder
		if err := quick.Highlight(&buffer, source, r.language, formatter, "monokai"); err == nil {
			highlighted = buffer.String()
		}
	}
	lines := strings.Split(strings.TrimRight(highlighted, "\n"), "\n")
	for i, line := range lines {
		lines[i] = ansi.Truncate(line, r.width, "…")
	}
	return strings.Join(lines, "\n")
}

func chromaFormatter(profile termenv.Profile) string {
	switch profile {
	case termenv.TrueColor:
		return "terminal16m"
	case termenv.ANSI256:
		return "terminal256"
	case termenv.ANSI:
		return "terminal16"
	default:
		return ""
	}
}

// Output renders one output entry behind the gutter.
func (r *Renderer) Output(output notebook.Output) string {
	var content string
	switch output.OutputType {
	case notebook.OutputStream:
		color := r.theme.Text
		if output.Name == "stderr" {
			color = r.theme.Stderr
		}
		content = r.wrapStyled(strings.TrimRight(output.Text, "\n"), color)

	case notebook.OutputError:
		lines := []string{r.style(r.theme.Error).Bold(true).Render(output.EName + ": " + output.EValue)}
		for _, entry := range output.Traceback {
			// Kernels embed their own ANSI coloring in tracebacks.
			if r.profile == termenv.Ascii {
				entry = ansi.Strip(entry)
			}
			lines = append(lines, strings.TrimRight(entry, "\n"))
		}
		content = r.fit(strings.Join(lines, "\n"))

	case notebook.OutputExecuteResult, notebook.OutputDisplayData:
		content = r.mimeBundle(output.Data)

	default:
		content = r.style(r.theme.Faint).Render("[" + output.OutputType + "]")
	}

	if content == "" {
		return ""
	}
	prefix := r.style(r.theme.Border).Render(gutter)
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

// mimeBundle picks the richest representation a terminal can show.
// Binary payloads are listed by type only.
func (r *Renderer) mimeBundle(data map[string]any) string {
	if text, ok := dataText(data["text/plain"]); ok {
		return r.wrapStyled(strings.TrimRight(text, "\n"), r.theme.Text)
	}
	if text, ok := dataText(data["text/markdown"]); ok {
		return r.markdown(text, r.contentWidth())
	}
	types := make([]string, 0, len(data))
	for mimeType := range data {
		types = append(types, mimeType)
	}
	if len(types) == 0 {
		return ""
	}
	sort.Strings(types)
	return r.style(r.theme.Faint).Render("[" + strings.Join(types, ", ") + "]")
}

func dataText(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case []string:
		return strings.Join(typed, ""), true
	case []any:
		var builder strings.Builder
		for _, part := range typed {
			text, ok := part.(string)
			if !ok {
				return "", false
			}
			builder.WriteString(text)
		}
		return builder.String(), true
	default:
		return "", false
	}
}

func (r *Renderer) contentWidth() int {
	width := r.width - gutterWidth
	if width < 10 {
		width = 10
	}
	return width
}

func (r *Renderer) wrapStyled(text string, color lipgloss.Color) string {
	if text == "" {
		return ""
	}
	style := r.style(color)
	lines := strings.Split(ansi.Wrap(text, r.contentWidth(), ""), "\n")
	for i, line := range lines {
		lines[i] = style.Render(line)
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) fit(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = ansi.Truncate(line, r.contentWidth(), "…")
	}
	return strings.Join(lines, "\n")
}
