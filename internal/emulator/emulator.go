// Package emulator wraps a headless VT model with the state a terminal tab
// needs on top of it: a scrollback viewport, mouse selection, fractional
// scrolling and per-line damage tracking.
//
// One mutex guards the whole emulator. The parser goroutine holds it while
// feeding bytes, and the UI goroutine holds it for resize, scroll,
// selection and render queries.
package emulator

import (
	"sync"

	headlessterm "github.com/danielgatis/go-headless-term"

	"github.com/biaogd/rivett/internal/queue"
)

const (
	DefaultCols       = 80
	DefaultRows       = 24
	DefaultScrollback = 10000

	// DefaultSemanticEscapeChars separate words for double-click selection.
	DefaultSemanticEscapeChars = ",│`|:\"' ()[]{}<>\t"
)

// Option configures an Emulator.
type Option func(*options)

type options struct {
	cols, rows int
	scrollback int
	escape     string
}

// WithSize sets the initial grid size.
func WithSize(cols, rows int) Option {
	return func(o *options) {
		if cols > 0 && rows > 0 {
			o.cols, o.rows = cols, rows
		}
	}
}

// WithScrollback sets how many history lines are kept.
func WithScrollback(lines int) Option {
	return func(o *options) {
		if lines > 0 {
			o.scrollback = lines
		}
	}
}

// WithSemanticEscapeChars sets the word separators for semantic selection.
func WithSemanticEscapeChars(chars string) Option {
	return func(o *options) {
		if chars != "" {
			o.escape = chars
		}
	}
}

// Emulator is the per-tab terminal state.
type Emulator struct {
	mu sync.Mutex

	term       *headlessterm.Terminal
	cols, rows int
	escape     string

	displayOffset int     // lines scrolled back into history, 0 = live
	scrollAcc     float32 // fractional wheel remainder

	sel        *selection
	pressPoint *Point // set between press and first drag

	prevHashes []uint64
	fullDamage bool

	replies      *queue.Queue[[]byte]
	repliesTaken bool
}

// replyWriter receives bytes the VT model must send back to the host
// (device attributes, cursor position reports).
type replyWriter struct {
	q *queue.Queue[[]byte]
}

func (w replyWriter) Write(p []byte) (int, error) {
	// The model may reuse p after Write returns
	if err := w.q.Push(append([]byte(nil), p...)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// New creates an emulator, 80x24 with 10000 lines of history by default.
func New(opts ...Option) *Emulator {
	o := options{
		cols:       DefaultCols,
		rows:       DefaultRows,
		scrollback: DefaultScrollback,
		escape:     DefaultSemanticEscapeChars,
	}
	for _, opt := range opts {
		opt(&o)
	}

	replies := queue.New[[]byte]()
	term := headlessterm.New(
		headlessterm.WithSize(o.rows, o.cols),
		headlessterm.WithResponse(replyWriter{q: replies}),
		headlessterm.WithScrollback(headlessterm.NewMemoryScrollback(o.scrollback)),
	)

	return &Emulator{
		term:       term,
		cols:       o.cols,
		rows:       o.rows,
		escape:     o.escape,
		fullDamage: true,
		replies:    replies,
	}
}

// ProcessInput feeds raw transport bytes to the VT model. Partial escape
// sequences and split UTF-8 are carried over to the next call by the model.
func (e *Emulator) ProcessInput(data []byte) {
	if len(data) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.term.ScrollbackLen()
	_, _ = e.term.Write(data)

	// Keep a scrolled-back view on the same history lines while output arrives
	if e.displayOffset > 0 {
		after := e.term.ScrollbackLen()
		if grew := after - before; grew > 0 {
			e.displayOffset += grew
		}
		if e.displayOffset > after {
			e.displayOffset = after
		}
	}
}

// Resize changes the grid size. Reflow and cursor placement follow the VT
// model. The selection is cleared and the whole viewport is damaged.
func (e *Emulator) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if cols == e.cols && rows == e.rows {
		return
	}
	e.term.Resize(rows, cols)
	e.cols, e.rows = cols, rows
	if max := e.term.ScrollbackLen(); e.displayOffset > max {
		e.displayOffset = max
	}
	e.sel = nil
	e.pressPoint = nil
	e.fullDamage = true
}

// Size returns the viewport dimensions.
func (e *Emulator) Size() (cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cols, e.rows
}

// TakeDamage returns the lines that changed since the previous call.
func (e *Emulator) TakeDamage() Damage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.computeDamageLocked()
}

// MarkFullDamage forces the next TakeDamage to report Full.
func (e *Emulator) MarkFullDamage() {
	e.mu.Lock()
	e.fullDamage = true
	e.mu.Unlock()
}

// TakeReplies hands out the reply queue. Only the first call returns it;
// later calls return nil so exactly one forwarder drains it.
func (e *Emulator) TakeReplies() *queue.Queue[[]byte] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repliesTaken {
		return nil
	}
	e.repliesTaken = true
	return e.replies
}

// Close stops reply delivery. The forwarder exits once the queue drains.
func (e *Emulator) Close() {
	e.replies.Close()
}

// CursorPosition returns the cursor in viewport coordinates. When the view
// is scrolled back the line may fall below the viewport.
func (e *Emulator) CursorPosition() (col, line int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	row, c := e.term.CursorPos()
	return c, row + e.displayOffset
}

// CursorVisible reports whether the cursor should be drawn.
func (e *Emulator) CursorVisible() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	row, _ := e.term.CursorPos()
	return e.term.CursorVisible() && row+e.displayOffset < e.rows
}

// Title returns the window title set by the application.
func (e *Emulator) Title() string {
	return e.term.Title()
}

// BracketedPasteMode reports whether the application enabled bracketed paste.
func (e *Emulator) BracketedPasteMode() bool {
	return e.term.HasMode(headlessterm.ModeBracketedPaste)
}

// AlternateScreen reports whether a full-screen application owns the display.
func (e *Emulator) AlternateScreen() bool {
	return e.term.IsAlternateScreen()
}

// gridCell returns the cell at grid coordinates. Negative lines index the
// history, -1 being the most recent history line. Caller holds e.mu.
func (e *Emulator) gridCell(col, line int) *headlessterm.Cell {
	if col < 0 || col >= e.cols {
		return nil
	}
	if line >= 0 {
		if line >= e.rows {
			return nil
		}
		return e.term.Cell(line, col)
	}
	idx := e.term.ScrollbackLen() + line
	if idx < 0 {
		return nil
	}
	cells := e.term.ScrollbackLine(idx)
	if col >= len(cells) {
		return nil
	}
	return &cells[col]
}
