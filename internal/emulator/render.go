package emulator

import (
	"image/color"
	"strings"

	headlessterm "github.com/danielgatis/go-headless-term"
)

// Cell is a renderable snapshot of one grid cell in viewport coordinates.
// Nil colors mean the renderer's default foreground or background.
type Cell struct {
	Col, Line int
	Char      rune
	Fg, Bg    color.Color

	Bold, Dim, Italic, Underline bool
	Reverse, Hidden, Strike      bool
	Wide                         bool // occupies this column and the next
	Selected                     bool
}

func snapshot(c *headlessterm.Cell, col, line int, selected bool) Cell {
	out := Cell{Col: col, Line: line, Char: ' ', Selected: selected}
	if c == nil {
		return out
	}
	if c.Char != 0 {
		out.Char = c.Char
	}
	out.Fg, out.Bg = c.Fg, c.Bg
	f := c.Flags
	out.Bold = f&headlessterm.CellFlagBold != 0
	out.Dim = f&headlessterm.CellFlagDim != 0
	out.Italic = f&headlessterm.CellFlagItalic != 0
	out.Underline = f&(headlessterm.CellFlagUnderline|headlessterm.CellFlagDoubleUnderline|headlessterm.CellFlagCurlyUnderline) != 0
	out.Reverse = f&headlessterm.CellFlagReverse != 0
	out.Hidden = f&headlessterm.CellFlagHidden != 0
	out.Strike = f&headlessterm.CellFlagStrike != 0
	out.Wide = f&headlessterm.CellFlagWideChar != 0
	return out
}

// RenderLine calls fn for every cell of a viewport line, skipping the
// spacer halves of wide characters.
func (e *Emulator) RenderLine(line int, fn func(Cell)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if line < 0 || line >= e.rows {
		return
	}
	e.renderLineLocked(line, e.selRangeLocked(), fn)
}

// RenderGrid calls fn for every cell of the viewport, line by line.
func (e *Emulator) RenderGrid(fn func(Cell)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.selRangeLocked()
	for line := 0; line < e.rows; line++ {
		e.renderLineLocked(line, r, fn)
	}
}

func (e *Emulator) renderLineLocked(line int, r selRange, fn func(Cell)) {
	g := line - e.displayOffset
	for col := 0; col < e.cols; col++ {
		c := e.gridCell(col, g)
		if c != nil && c.IsWideSpacer() {
			continue
		}
		fn(snapshot(c, col, line, r.contains(Point{Col: col, Line: g})))
	}
}

// LineText returns the text of a viewport line with trailing blanks trimmed.
func (e *Emulator) LineText(line int) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if line < 0 || line >= e.rows {
		return ""
	}
	return e.lineTextLocked(line)
}

func (e *Emulator) lineTextLocked(line int) string {
	var sb strings.Builder
	g := line - e.displayOffset
	for col := 0; col < e.cols; col++ {
		c := e.gridCell(col, g)
		switch {
		case c == nil || c.Char == 0:
			sb.WriteByte(' ')
		case c.IsWideSpacer():
		default:
			sb.WriteRune(c.Char)
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

// ScreenText returns every viewport line joined by newlines, with trailing
// empty lines removed.
func (e *Emulator) ScreenText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	lines := make([]string, e.rows)
	for i := range lines {
		lines[i] = e.lineTextLocked(i)
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
