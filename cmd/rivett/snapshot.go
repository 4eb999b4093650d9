package main

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/biaogd/rivett/internal/emulator"
)

// Run is a span of cells on one line sharing the same attributes.
type Run struct {
	Col       int    `json:"col"`
	Text      string `json:"text"`
	Fg        string `json:"fg,omitempty"`
	Bg        string `json:"bg,omitempty"`
	Bold      bool   `json:"bold,omitempty"`
	Dim       bool   `json:"dim,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Underline bool   `json:"underline,omitempty"`
	Reverse   bool   `json:"reverse,omitempty"`
	Strike    bool   `json:"strike,omitempty"`
	Wide      bool   `json:"wide,omitempty"`
	Selected  bool   `json:"selected,omitempty"`
}

// Line is one viewport line with the cache generation it was built at.
type Line struct {
	Index      int    `json:"index"`
	Generation uint64 `json:"generation"`
	Runs       []Run  `json:"runs"`
}

// Snapshot is what the frontend needs to paint a tab.
type Snapshot struct {
	Cols          int    `json:"cols"`
	Rows          int    `json:"rows"`
	CursorCol     int    `json:"cursorCol"`
	CursorLine    int    `json:"cursorLine"`
	CursorVisible bool   `json:"cursorVisible"`
	Title         string `json:"title"`
	State         string `json:"state"`
	ScrollTotal   int    `json:"scrollTotal"`
	ScrollOffset  int    `json:"scrollOffset"`
	Lines         []Line `json:"lines"`
}

// Snapshot returns the requested viewport lines of a tab, or every line
// when lines is empty.
func (a *App) Snapshot(id string, lines []int) (Snapshot, error) {
	t, err := a.tab(id)
	if err != nil {
		return Snapshot{}, err
	}
	emu := t.Emulator()
	caches := t.Caches()

	cols, rows := emu.Size()
	col, line := emu.CursorPosition()
	total, offset, _ := emu.ScrollState()
	snap := Snapshot{
		Cols:          cols,
		Rows:          rows,
		CursorCol:     col,
		CursorLine:    line,
		CursorVisible: emu.CursorVisible() && offset == 0,
		Title:         t.Title(),
		State:         t.State().Kind.String(),
		ScrollTotal:   total,
		ScrollOffset:  offset,
	}

	if len(lines) == 0 {
		lines = make([]int, rows)
		for i := range lines {
			lines[i] = i
		}
	}
	for _, l := range lines {
		if l < 0 || l >= rows {
			continue
		}
		snap.Lines = append(snap.Lines, Line{
			Index:      l,
			Generation: caches.Generation(l),
			Runs:       lineRuns(emu, l),
		})
	}
	return snap, nil
}

func lineRuns(emu *emulator.Emulator, line int) []Run {
	var runs []Run
	var text strings.Builder
	var cur Run
	open := false

	flush := func() {
		if open {
			cur.Text = text.String()
			runs = append(runs, cur)
		}
		text.Reset()
		open = false
	}

	emu.RenderLine(line, func(c emulator.Cell) {
		r := Run{
			Col:       c.Col,
			Fg:        hexColor(c.Fg),
			Bg:        hexColor(c.Bg),
			Bold:      c.Bold,
			Dim:       c.Dim,
			Italic:    c.Italic,
			Underline: c.Underline,
			Reverse:   c.Reverse,
			Strike:    c.Strike,
			Wide:      c.Wide,
			Selected:  c.Selected,
		}
		// wide cells get their own run so the frontend can size them
		if !open || c.Wide || cur.Wide || !sameStyle(cur, r) {
			flush()
			cur, open = r, true
		}
		ch := c.Char
		if c.Hidden {
			ch = ' '
		}
		text.WriteRune(ch)
	})
	flush()
	return runs
}

func sameStyle(a, b Run) bool {
	a.Col, b.Col = 0, 0
	return a == b
}

func hexColor(c color.Color) string {
	if c == nil {
		return ""
	}
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}
