// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	parser     goldmark.Markdown
	parserOnce sync.Once
)

func markdownParser() goldmark.Markdown {
	parserOnce.Do(func() {
		parser = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return parser
}

// wrapBreakpoints are the characters ansi.Wrap may break after in
// addition to spaces.
const wrapBreakpoints = " ,.;-+|"

// Markdown renders markdown source reflowed to the renderer's width.
// Soft line breaks become spaces.
func (r *Renderer) Markdown(source string) string {
	return r.markdown(source, r.width)
}

func (r *Renderer) markdown(source string, width int) string {
	if strings.TrimSpace(source) == "" {
		return ""
	}
	raw := []byte(source)
	document := markdownParser().Parser().Parse(text.NewReader(raw))

	writer := &markdownWriter{renderer: r, source: raw, width: width}
	ast.Walk(document, writer.walk)
	return strings.TrimRight(writer.out.String(), "\n")
}

// markdownWriter walks a goldmark AST. Inline content accumulates in
// a buffer and is wrapped as a unit when its block closes, which is
// why this does not use goldmark's streaming renderer interface.
type markdownWriter struct {
	renderer *Renderer
	source   []byte
	width    int

	out      strings.Builder
	inline   strings.Builder
	newlines int

	// indent is the continuation prefix for nested blocks; bullet
	// replaces it for the first line of a list item.
	indent []string
	bullet string

	lists []listLevel

	bold, italic, strike int
}

type listLevel struct {
	ordered bool
	next    int
	tight   bool
}

func (w *markdownWriter) prefix() string {
	return strings.Join(w.indent, "")
}

func (w *markdownWriter) available() int {
	width := w.width - ansi.StringWidth(w.prefix())
	if width < 10 {
		width = 10
	}
	return width
}

func (w *markdownWriter) tight() bool {
	return len(w.lists) > 0 && w.lists[len(w.lists)-1].tight
}

func (w *markdownWriter) write(s string) {
	if s == "" {
		return
	}
	w.out.WriteString(s)
	trimmed := strings.TrimRight(s, "\n")
	if trimmed == "" {
		w.newlines += len(s)
	} else {
		w.newlines = len(s) - len(trimmed)
	}
}

// separate ensures at least count newlines end the output. The start
// of the document needs none.
func (w *markdownWriter) separate(count int) {
	if w.out.Len() == 0 {
		return
	}
	for w.newlines < count {
		w.write("\n")
	}
}

// emit writes a block of lines behind the current prefixes.
func (w *markdownWriter) emit(block string) {
	prefix := w.prefix()
	for i, line := range strings.Split(block, "\n") {
		if i == 0 && w.bullet != "" {
			w.write(w.bullet + line + "\n")
			w.bullet = ""
			continue
		}
		w.write(prefix + line + "\n")
	}
}

func (w *markdownWriter) closeBlock() {
	if w.tight() {
		w.separate(1)
	} else {
		w.separate(2)
	}
}

func (w *markdownWriter) flush() {
	content := w.inline.String()
	w.inline.Reset()
	if content == "" {
		return
	}
	w.emit(ansi.Wrap(content, w.available(), wrapBreakpoints))
	w.closeBlock()
}

func (w *markdownWriter) styled(content string) string {
	style := w.renderer.style(w.renderer.theme.Text)
	if w.bold > 0 {
		style = style.Bold(true)
	}
	if w.italic > 0 {
		style = style.Italic(true)
	}
	if w.strike > 0 {
		style = style.Strikethrough(true)
	}
	return style.Render(content)
}

func (w *markdownWriter) faint(content string) string {
	return w.renderer.style(w.renderer.theme.Faint).Render(content)
}

func (w *markdownWriter) lines(node ast.Node) string {
	var builder strings.Builder
	segments := node.Lines()
	for i := 0; i < segments.Len(); i++ {
		segment := segments.At(i)
		builder.Write(segment.Value(w.source))
	}
	return strings.TrimRight(builder.String(), "\n")
}

func (w *markdownWriter) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {
	case ast.KindParagraph, ast.KindTextBlock:
		if entering {
			w.inline.Reset()
		} else {
			w.flush()
		}

	case ast.KindHeading:
		if entering {
			w.inline.Reset()
			return ast.WalkContinue, nil
		}
		content := ansi.Strip(w.inline.String())
		w.inline.Reset()
		if content == "" {
			break
		}
		style := w.renderer.style(w.renderer.theme.Heading).Bold(true)
		if node.(*ast.Heading).Level > 2 {
			style = w.renderer.style(w.renderer.theme.Text).Bold(true)
		}
		w.separate(2)
		w.emit(ansi.Wrap(style.Render(content), w.available(), wrapBreakpoints))
		w.separate(2)

	case ast.KindFencedCodeBlock, ast.KindCodeBlock:
		if !entering {
			break
		}
		code := w.lines(node)
		var rendered string
		if fenced, ok := node.(*ast.FencedCodeBlock); ok && fenced.Language(w.source) != nil {
			sub := *w.renderer
			sub.language = string(fenced.Language(w.source))
			sub.width = w.available()
			rendered = sub.Code(code)
		} else {
			parts := strings.Split(code, "\n")
			for i, part := range parts {
				parts[i] = w.faint(part)
			}
			rendered = strings.Join(parts, "\n")
		}
		w.separate(2)
		w.emit(rendered)
		w.closeBlock()
		return ast.WalkSkipChildren, nil

	case ast.KindBlockquote:
		if entering {
			w.indent = append(w.indent, w.renderer.style(w.renderer.theme.Border).Render(gutter))
		} else {
			w.indent = w.indent[:len(w.indent)-1]
			w.separate(2)
		}

	case ast.KindList:
		if entering {
			list := node.(*ast.List)
			w.lists = append(w.lists, listLevel{ordered: list.IsOrdered(), next: list.Start, tight: list.IsTight})
		} else {
			w.lists = w.lists[:len(w.lists)-1]
			w.closeBlock()
		}

	case ast.KindListItem:
		if len(w.lists) == 0 {
			break
		}
		if !entering {
			w.indent = w.indent[:len(w.indent)-1]
			w.closeBlock()
			break
		}
		level := &w.lists[len(w.lists)-1]
		marker := "- "
		if level.ordered {
			marker = fmt.Sprintf("%d. ", level.next)
			level.next++
		}
		w.bullet = w.prefix() + marker
		w.indent = append(w.indent, strings.Repeat(" ", len(marker)))

	case ast.KindThematicBreak:
		if entering {
			w.separate(2)
			w.emit(w.renderer.style(w.renderer.theme.Border).Render(strings.Repeat("─", w.available())))
			w.separate(2)
		}

	case ast.KindHTMLBlock:
		if entering {
			if content := w.lines(node); strings.TrimSpace(content) != "" {
				w.emit(w.faint(content))
				w.closeBlock()
			}
			return ast.WalkSkipChildren, nil
		}

	case ast.KindText:
		if entering {
			textNode := node.(*ast.Text)
			w.inline.WriteString(w.styled(string(textNode.Segment.Value(w.source))))
			if textNode.HardLineBreak() {
				w.inline.WriteString("\n")
			} else if textNode.SoftLineBreak() {
				w.inline.WriteString(" ")
			}
		}

	case ast.KindString:
		if entering {
			w.inline.WriteString(w.styled(string(node.(*ast.String).Value)))
		}

	case ast.KindEmphasis:
		counter := &w.italic
		if node.(*ast.Emphasis).Level >= 2 {
			counter = &w.bold
		}
		if entering {
			*counter++
		} else {
			*counter--
		}

	case extast.KindStrikethrough:
		if entering {
			w.strike++
		} else {
			w.strike--
		}

	case ast.KindCodeSpan:
		if entering {
			var code strings.Builder
			for child := node.FirstChild(); child != nil; child = child.NextSibling() {
				switch typed := child.(type) {
				case *ast.Text:
					code.Write(typed.Segment.Value(w.source))
				case *ast.String:
					code.Write(typed.Value)
				}
			}
			w.inline.WriteString(w.faint(code.String()))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if !entering {
			if destination := string(node.(*ast.Link).Destination); destination != "" {
				w.inline.WriteString(" " + w.faint("("+destination+")"))
			}
		}

	case ast.KindAutoLink:
		if entering {
			w.inline.WriteString(w.faint(string(node.(*ast.AutoLink).URL(w.source))))
		}

	case ast.KindImage:
		if entering {
			image := node.(*ast.Image)
			alt := ansi.Strip(string(image.Text(w.source)))
			w.inline.WriteString(w.faint("[image: " + alt + "]"))
			return ast.WalkSkipChildren, nil
		}

	case extast.KindTaskCheckBox:
		if entering {
			if node.(*extast.TaskCheckBox).IsChecked {
				w.inline.WriteString(w.styled("[x] "))
			} else {
				w.inline.WriteString(w.styled("[ ] "))
			}
		}

	case extast.KindTable:
		if entering {
			w.table(node)
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

// table renders a GFM table as aligned columns. Columns are sized to
// their widest cell and the row is truncated when it overflows.
func (w *markdownWriter) table(node ast.Node) {
	var rows [][]string
	for row := node.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, strings.TrimSpace(string(cell.Text(w.source))))
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return
	}

	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], ansi.StringWidth(cell))
		}
	}

	var lines []string
	for index, row := range rows {
		var builder strings.Builder
		for i, cell := range row {
			if i > 0 {
				builder.WriteString("  ")
			}
			builder.WriteString(cell + strings.Repeat(" ", widths[i]-ansi.StringWidth(cell)))
		}
		line := strings.TrimRight(builder.String(), " ")
		if index == 0 {
			line = w.renderer.style(w.renderer.theme.Heading).Bold(true).Render(line)
		} else {
			line = w.styled(line)
		}
		lines = append(lines, ansi.Truncate(line, w.available(), "…"))
	}
	w.separate(2)
	w.emit(strings.Join(lines, "\n"))
	w.closeBlock()
}
