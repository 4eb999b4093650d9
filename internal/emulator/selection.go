package emulator

import (
	"strings"
	"unicode"
)

// Point is a grid position. Line 0 is the top of the live screen and
// negative lines are history.
type Point struct {
	Col, Line int
}

func (p Point) before(o Point) bool {
	return p.Line < o.Line || (p.Line == o.Line && p.Col < o.Col)
}

// SelectionMode is how a selection grows.
type SelectionMode int

const (
	// SelectionSimple selects cell by cell from the press point.
	SelectionSimple SelectionMode = iota
	// SelectionSemantic snaps both ends to word boundaries.
	SelectionSemantic
)

type selection struct {
	mode         SelectionMode
	anchor, head Point
}

// toGrid converts viewport coordinates using the current display offset.
func (e *Emulator) toGrid(col, line int) Point {
	if col < 0 {
		col = 0
	}
	if col >= e.cols {
		col = e.cols - 1
	}
	return Point{Col: col, Line: line - e.displayOffset}
}

// OnMousePress clears any selection and remembers the press point. The
// selection itself starts on the first drag.
func (e *Emulator) OnMousePress(col, line int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sel != nil {
		e.sel = nil
		e.fullDamage = true
	}
	p := e.toGrid(col, line)
	e.pressPoint = &p
}

// OnMouseDrag starts or extends the selection.
func (e *Emulator) OnMouseDrag(col, line int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.toGrid(col, line)
	switch {
	case e.sel != nil:
		e.sel.head = p
	case e.pressPoint != nil:
		e.sel = &selection{mode: SelectionSimple, anchor: *e.pressPoint, head: p}
	default:
		return
	}
	e.fullDamage = true
}

// OnMouseRelease ends a drag. The selection stays until the next press.
func (e *Emulator) OnMouseRelease() {
	e.mu.Lock()
	e.pressPoint = nil
	e.mu.Unlock()
}

// OnMouseDoubleClick selects the word under the pointer. Dragging after a
// double click extends the selection word by word.
func (e *Emulator) OnMouseDoubleClick(col, line int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.toGrid(col, line)
	e.sel = &selection{mode: SelectionSemantic, anchor: p, head: p}
	e.pressPoint = nil
	e.fullDamage = true
}

// ClearSelection drops the selection.
func (e *Emulator) ClearSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sel != nil {
		e.sel = nil
		e.fullDamage = true
	}
}

func (e *Emulator) selectionMode() (SelectionMode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sel == nil {
		return 0, false
	}
	return e.sel.mode, true
}

// rangeLocked returns the normalized, inclusive selection span.
func (e *Emulator) rangeLocked() (start, end Point, ok bool) {
	if e.sel == nil {
		return Point{}, Point{}, false
	}
	start, end = e.sel.anchor, e.sel.head
	if end.before(start) {
		start, end = end, start
	}
	if e.sel.mode == SelectionSemantic {
		start.Col = e.wordStart(start)
		end.Col = e.wordEnd(end)
	}
	return start, end, true
}

func (e *Emulator) isSeparator(p Point) bool {
	c := e.gridCell(p.Col, p.Line)
	if c == nil || c.Char == 0 || unicode.IsSpace(c.Char) {
		return true
	}
	return strings.ContainsRune(e.escape, c.Char)
}

func (e *Emulator) wordStart(p Point) int {
	if e.isSeparator(p) {
		return p.Col
	}
	col := p.Col
	for col > 0 && !e.isSeparator(Point{Col: col - 1, Line: p.Line}) {
		col--
	}
	return col
}

func (e *Emulator) wordEnd(p Point) int {
	if e.isSeparator(p) {
		return p.Col
	}
	col := p.Col
	for col < e.cols-1 && !e.isSeparator(Point{Col: col + 1, Line: p.Line}) {
		col++
	}
	return col
}

// IsSelected reports whether a viewport cell lies inside the selection.
func (e *Emulator) IsSelected(col, line int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isSelectedLocked(col, line)
}

func (e *Emulator) isSelectedLocked(col, line int) bool {
	return e.selRangeLocked().contains(Point{Col: col, Line: line - e.displayOffset})
}

type selRange struct {
	start, end Point
	ok         bool
}

func (e *Emulator) selRangeLocked() selRange {
	start, end, ok := e.rangeLocked()
	return selRange{start: start, end: end, ok: ok}
}

func (r selRange) contains(p Point) bool {
	return r.ok && !p.before(r.start) && !r.end.before(p)
}

// CopySelection returns the selected text. Trailing blanks are trimmed
// from each line and soft-wrapped screen lines are joined without a newline.
func (e *Emulator) CopySelection() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start, end, ok := e.rangeLocked()
	if !ok {
		return "", false
	}

	var sb strings.Builder
	for line := start.Line; line <= end.Line; line++ {
		from, to := 0, e.cols-1
		if line == start.Line {
			from = start.Col
		}
		if line == end.Line {
			to = end.Col
		}

		var row []rune
		for col := from; col <= to; col++ {
			c := e.gridCell(col, line)
			if c == nil {
				continue
			}
			if c.IsWideSpacer() {
				continue
			}
			if c.Char == 0 {
				row = append(row, ' ')
			} else {
				row = append(row, c.Char)
			}
		}
		sb.WriteString(strings.TrimRight(string(row), " "))

		if line < end.Line && !(line >= 0 && e.term.IsWrapped(line)) {
			sb.WriteByte('\n')
		}
	}
	return sb.String(), true
}
