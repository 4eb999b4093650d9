package tab

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/biaogd/rivett/internal/backend"
	"github.com/biaogd/rivett/internal/emulator"
	"github.com/biaogd/rivett/internal/input"
	"github.com/biaogd/rivett/internal/logging"
	"github.com/biaogd/rivett/internal/pump"
	"github.com/biaogd/rivett/internal/queue"
	"github.com/biaogd/rivett/internal/redraw"
)

// Option configures a Tab.
type Option func(*Tab)

// WithListener delivers state and redraw events to l.
func WithListener(l Listener) Option {
	return func(t *Tab) { t.listener = l }
}

// WithClock replaces time.Now for damage timestamps and state changes.
func WithClock(now func() time.Time) Option {
	return func(t *Tab) { t.now = now }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tab) { t.logger = l }
}

// pipeline is everything that lives for one connection attempt.
type pipeline struct {
	output *queue.Queue[[]byte]
	damage *queue.Queue[emulator.Damage]
	parser *pump.Parser
	cancel context.CancelFunc
}

func (p *pipeline) stop() {
	p.cancel()
	p.output.Close()
	p.parser.Stop()
}

type pendingResize struct {
	cols, rows int
	at         time.Time
}

// Tab is one terminal: an emulator that outlives reconnects, plus the
// session and goroutines of the current connection. All methods are safe
// for concurrent use.
type Tab struct {
	ID string

	settings Settings
	open     Opener
	listener Listener
	now      func() time.Time
	logger   zerolog.Logger

	emu     *emulator.Emulator
	caches  *redraw.LineCaches
	replies *queue.Queue[[]byte]

	mu      sync.Mutex
	title   string
	state   State
	session *backend.Session
	pipe    *pipeline
	retired *pipeline
	dialing bool
	sched   *redraw.State
	resize  *pendingResize
	closed  bool
}

// New creates a tab in the Connecting state. Nothing is opened until
// Connect or Start.
func New(id, title string, open Opener, settings Settings, opts ...Option) *Tab {
	t := &Tab{
		ID:       id,
		title:    title,
		settings: settings.withDefaults(),
		open:     open,
		now:      time.Now,
		logger:   logging.For("tab").With().Str("tab", id).Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.emu = emulator.New(
		emulator.WithSize(t.settings.Cols, t.settings.Rows),
		emulator.WithScrollback(t.settings.Scrollback),
		emulator.WithSemanticEscapeChars(t.settings.EscapeChars),
	)
	_, rows := t.emu.Size()
	t.caches = redraw.NewLineCaches(rows)
	t.replies = t.emu.TakeReplies()

	now := t.now()
	t.sched = redraw.NewState(t.settings.Stable, t.settings.Frame, now)
	t.state = State{Kind: Connecting, Since: now}
	return t
}

// Start connects in the background. Failures show up as the Failed state.
func (t *Tab) Start(ctx context.Context) {
	go func() { _ = t.Connect(ctx) }()
}

// Connect opens the transport. The session is installed together with
// the Connected state, so no write can reach a half-open channel. Only one
// attempt runs at a time; a second one gets ErrBusy.
func (t *Tab) Connect(ctx context.Context) error {
	return t.connect(ctx, false)
}

// Retry reconnects a failed or disconnected tab. The screen and history
// are kept.
func (t *Tab) Retry(ctx context.Context) error {
	return t.connect(ctx, true)
}

// beginLocked claims the tab for one connection attempt.
func (t *Tab) beginLocked(retry bool) (Event, error) {
	switch {
	case t.closed:
		return Event{}, ErrTabClosed
	case retry && t.state.Kind != Failed && t.state.Kind != Disconnected:
		return Event{}, ErrNotRetryable
	case t.dialing || t.pipe != nil:
		return Event{}, ErrBusy
	}
	t.dialing = true
	return t.setStateLocked(Connecting, ""), nil
}

func (t *Tab) connect(ctx context.Context, retry bool) error {
	t.mu.Lock()
	ev, err := t.beginLocked(retry)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.emit(ev)

	cols, rows := t.emu.Size()
	sess, out, err := t.open(ctx, cols, rows)
	if err != nil {
		t.logger.Error().Err(err).Msg("connect failed")
		t.mu.Lock()
		t.dialing = false
		if t.closed {
			t.mu.Unlock()
			return ErrTabClosed
		}
		ev = t.setStateLocked(Failed, err.Error())
		t.mu.Unlock()
		t.emit(ev)
		return fmt.Errorf("tab %s: %w", t.ID, err)
	}

	// Replies produced for the previous transport must not reach this one
	t.mu.Lock()
	prev := t.retired
	t.mu.Unlock()
	if prev != nil {
		<-prev.parser.Done()
	}

	t.mu.Lock()
	t.dialing = false
	if t.closed {
		t.mu.Unlock()
		_ = sess.Close()
		return ErrTabClosed
	}
	t.retired = nil
	if n := t.dropRepliesLocked(); n > 0 {
		t.logger.Debug().Int("replies", n).Msg("dropped replies of previous session")
	}
	t.session = sess
	t.pipe = t.startPipelineLocked(sess, out)
	ev = t.setStateLocked(Connected, "")
	t.mu.Unlock()
	t.emit(ev)

	t.logger.Info().Str("backend", sess.Kind().String()).Int("cols", cols).Int("rows", rows).Msg("session ready")

	// The view may have been resized while the transport was opening
	if c, r := t.emu.Size(); c != cols || r != rows {
		go t.sendResize(sess, c, r)
	}
	return nil
}

func (t *Tab) dropRepliesLocked() int {
	n := 0
	for {
		if _, ok := t.replies.TryPop(); !ok {
			return n
		}
		n++
	}
}

func (t *Tab) startPipelineLocked(sess *backend.Session, out io.Reader) *pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{
		output: queue.New[[]byte](),
		damage: queue.New[emulator.Damage](),
		cancel: cancel,
	}
	p.parser = pump.NewParser(t.emu, p.damage, t.settings.BatchLimit, t.logger)
	p.parser.Start()
	go func() {
		<-p.parser.Done()
		p.damage.Close()
	}()

	reader := &pump.Reader{Source: out, Out: p.output, BufSize: t.settings.ReadBuffer, Logger: t.logger}
	reader.Start()

	go pump.ForwardReplies(ctx, t.replies, sess, t.settings.ReplyTimeout, t.logger)
	go t.receive(ctx, p)
	go t.drainDamage(p)
	return p
}

// receive moves transport chunks to the parser until end of stream.
func (t *Tab) receive(ctx context.Context, p *pipeline) {
	windowStart := t.now()
	windowBytes := 0
	for {
		chunk, err := p.output.Pop(ctx)
		if err != nil {
			if ctx.Err() == nil {
				t.disconnect(p, "connection lost")
			}
			return
		}
		if pump.IsDisconnect(chunk) {
			t.disconnect(p, "end of stream")
			return
		}
		t.HandleData(chunk)

		windowBytes += len(chunk)
		if now := t.now(); now.Sub(windowStart) >= time.Second {
			secs := now.Sub(windowStart).Seconds()
			t.logger.Info().Int("bytes", windowBytes).Float64("bytes_per_sec", float64(windowBytes)/secs).Msg("receive throughput")
			windowStart, windowBytes = now, 0
		}
	}
}

func (t *Tab) drainDamage(p *pipeline) {
	for {
		d, err := p.damage.Pop(context.Background())
		if err != nil {
			return
		}
		t.HandleDamage(d)
	}
}

// disconnect retires pipeline p after its transport ended. A stale
// pipeline from an earlier attempt is ignored.
func (t *Tab) disconnect(p *pipeline, reason string) {
	t.mu.Lock()
	if t.pipe != p || t.closed {
		t.mu.Unlock()
		return
	}
	sess := t.session
	t.pipe = nil
	t.retired = p
	t.session = nil
	ev := t.setStateLocked(Disconnected, reason)
	t.mu.Unlock()

	p.stop()
	if sess != nil {
		_ = sess.Close()
	}
	t.logger.Info().Str("reason", reason).Msg("session disconnected")
	t.emit(ev)
}

// HandleData hands a chunk to the parser. If the parser is gone the chunk
// is processed in place, so it is never dropped.
func (t *Tab) HandleData(chunk []byte) {
	t.mu.Lock()
	p := t.pipe
	t.mu.Unlock()

	if p != nil && p.parser.Submit(chunk) == nil {
		return
	}
	t.logger.Debug().Int("bytes", len(chunk)).Msg("parser unavailable, processing inline")
	t.emu.ProcessInput(chunk)
	t.HandleDamage(t.emu.TakeDamage())
}

// HandleDamage records damage for the next redraw.
func (t *Tab) HandleDamage(d emulator.Damage) {
	if d.Empty() {
		return
	}
	t.mu.Lock()
	t.sched.AddDamage(d, t.now())
	t.mu.Unlock()
}

// Tick applies a due resize and, when the redraw debounce allows it, the
// pending damage. It returns the damage applied.
func (t *Tab) Tick(now time.Time) (emulator.Damage, bool) {
	t.mu.Lock()
	var resizeSess *backend.Session
	var cols, rows int
	if r := t.resize; r != nil && now.Sub(r.at) >= t.settings.ResizeDebounce {
		t.resize = nil
		cols, rows = r.cols, r.rows
		t.applyResizeLocked(cols, rows, now)
		resizeSess = t.session
	}

	pending := t.sched.Pending()
	applied := t.sched.Tick(now, t.caches)
	t.mu.Unlock()

	if resizeSess != nil {
		go t.sendResize(resizeSess, cols, rows)
	}
	if !applied {
		return emulator.Damage{}, false
	}
	t.emit(Event{Kind: EventRedraw, TabID: t.ID, Damage: pending})
	return pending, true
}

// Input writes user bytes, bounded by the input timeout.
func (t *Tab) Input(ctx context.Context, data []byte) error {
	sess := t.Session()
	if sess == nil {
		return ErrNoSession
	}
	if len(data) == 0 {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, t.settings.InputTimeout)
	defer cancel()
	if err := sess.Write(wctx, data); err != nil {
		t.logger.Warn().Err(err).Int("bytes", len(data)).Msg("input write failed")
		return err
	}
	return nil
}

// Paste writes text, bracketed when it spans lines.
func (t *Tab) Paste(ctx context.Context, text string) error {
	return t.Input(ctx, input.MaybeWrapPaste(text))
}

// Resize applies a new size now, to the emulator, the caches and the
// transport.
func (t *Tab) Resize(ctx context.Context, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("tab: invalid size %dx%d", cols, rows)
	}
	t.mu.Lock()
	t.resize = nil
	t.applyResizeLocked(cols, rows, t.now())
	sess := t.session
	t.mu.Unlock()

	if sess == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, t.settings.InputTimeout)
	defer cancel()
	return sess.Resize(wctx, cols, rows)
}

// RequestResize schedules a resize for when the size has been stable for
// the debounce period. Later requests replace earlier ones.
func (t *Tab) RequestResize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	t.mu.Lock()
	t.resize = &pendingResize{cols: cols, rows: rows, at: t.now()}
	t.mu.Unlock()
}

func (t *Tab) applyResizeLocked(cols, rows int, now time.Time) {
	t.emu.Resize(cols, rows)
	t.caches.Ensure(rows)
	t.sched.AddDamage(t.emu.TakeDamage(), now)
	t.sched.MarkFull(now)
}

func (t *Tab) sendResize(sess *backend.Session, cols, rows int) {
	ctx, cancel := context.WithTimeout(context.Background(), t.settings.InputTimeout)
	defer cancel()
	if err := sess.Resize(ctx, cols, rows); err != nil {
		t.logger.Warn().Err(err).Int("cols", cols).Int("rows", rows).Msg("resize failed")
	}
}

// Scroll feeds a fractional line delta to the emulator.
func (t *Tab) Scroll(delta float32) int {
	n := t.emu.Scroll(delta)
	if n != 0 {
		t.pullDamage()
	}
	return n
}

// ScrollWheel converts a wheel event and scrolls by it.
func (t *Tab) ScrollWheel(d input.WheelDelta) int {
	return t.Scroll(input.WheelLines(d))
}

func (t *Tab) MousePress(col, line int) {
	t.emu.OnMousePress(col, line)
	t.pullDamage()
}

func (t *Tab) MouseDrag(col, line int) {
	t.emu.OnMouseDrag(col, line)
	t.pullDamage()
}

func (t *Tab) MouseRelease() {
	t.emu.OnMouseRelease()
	t.pullDamage()
}

func (t *Tab) MouseDoubleClick(col, line int) {
	t.emu.OnMouseDoubleClick(col, line)
	t.pullDamage()
}

// Copy returns the selected text.
func (t *Tab) Copy() (string, bool) {
	return t.emu.CopySelection()
}

func (t *Tab) pullDamage() {
	t.HandleDamage(t.emu.TakeDamage())
}

// Close tears the tab down. Goroutines exit on their next queue operation.
func (t *Tab) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	p, sess := t.pipe, t.session
	t.pipe, t.session = nil, nil
	t.mu.Unlock()

	if p != nil {
		p.stop()
	}
	t.emu.Close()
	if sess != nil {
		return sess.Close()
	}
	return nil
}

// Title returns the title set by the shell, or the tab's own name.
func (t *Tab) Title() string {
	if title := t.emu.Title(); title != "" {
		return title
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.title
}

// State returns the connection state.
func (t *Tab) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Session returns the live session, or nil before connect and after a
// disconnect.
func (t *Tab) Session() *backend.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

func (t *Tab) Emulator() *emulator.Emulator { return t.emu }

func (t *Tab) Caches() *redraw.LineCaches { return t.caches }

// Dirty reports whether damage is waiting for a redraw.
func (t *Tab) Dirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sched.Dirty()
}

func (t *Tab) setStateLocked(kind StateKind, reason string) Event {
	t.state = State{Kind: kind, Since: t.now(), Reason: reason}
	return Event{Kind: EventState, TabID: t.ID, State: t.state}
}

func (t *Tab) emit(ev Event) {
	if t.listener != nil {
		t.listener(ev)
	}
}
