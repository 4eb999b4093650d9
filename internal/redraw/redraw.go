// Package redraw coalesces emulator damage per tab and decides when the
// rendering layer should repaint.
package redraw

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/biaogd/rivett/internal/emulator"
)

const (
	// DefaultStable is the output silence after which damage is applied.
	DefaultStable = 5 * time.Millisecond
	// DefaultFrame forces a repaint during long bursts.
	DefaultFrame = 16 * time.Millisecond
	// DefaultTick is the scheduler period (about 60 Hz).
	DefaultTick = 16 * time.Millisecond
)

// Caches is the invalidation contract toward the rendering layer.
type Caches interface {
	InvalidateChrome()
	InvalidateLine(line int)
	InvalidateAll()
}

// State is the per-tab dirty state machine. It is not safe for concurrent
// use; the UI goroutine owns it.
type State struct {
	stable, frame time.Duration

	dirty      bool
	full       bool
	lines      []int
	lastData   time.Time
	lastRedraw time.Time
}

// NewState creates a clean state whose last redraw is now.
func NewState(stable, frame time.Duration, now time.Time) *State {
	if stable <= 0 {
		stable = DefaultStable
	}
	if frame <= 0 {
		frame = DefaultFrame
	}
	return &State{stable: stable, frame: frame, lastRedraw: now}
}

// AddDamage records damage that arrived at now.
func (s *State) AddDamage(d emulator.Damage, now time.Time) {
	if d.Empty() {
		return
	}
	s.dirty = true
	s.lastData = now
	if d.Full {
		s.full = true
		s.lines = s.lines[:0]
		return
	}
	if !s.full {
		s.lines = append(s.lines, d.Lines...)
	}
}

// MarkFull records full damage without new data, for resizes and scrolls.
func (s *State) MarkFull(now time.Time) {
	s.AddDamage(emulator.FullDamage(), now)
}

// Dirty reports whether damage is pending.
func (s *State) Dirty() bool { return s.dirty }

// Due reports whether pending damage should be applied at now: output has
// been quiet for the stable interval, or a frame interval has passed since
// the last redraw.
func (s *State) Due(now time.Time) bool {
	if !s.dirty {
		return false
	}
	return now.Sub(s.lastData) > s.stable || now.Sub(s.lastRedraw) > s.frame
}

// Tick applies pending damage to caches when due and reports whether it did.
func (s *State) Tick(now time.Time, caches Caches) bool {
	if !s.Due(now) {
		return false
	}
	s.Apply(now, caches)
	return true
}

// Apply invalidates the chrome cache and the damaged line caches, each
// line at most once, then clears the pending state.
func (s *State) Apply(now time.Time, caches Caches) {
	caches.InvalidateChrome()
	if s.full {
		caches.InvalidateAll()
	} else {
		sort.Ints(s.lines)
		for i, line := range s.lines {
			if i > 0 && line == s.lines[i-1] {
				continue
			}
			caches.InvalidateLine(line)
		}
	}
	s.dirty = false
	s.full = false
	s.lines = s.lines[:0]
	s.lastRedraw = now
}

// Pending returns a copy of the pending damage, deduplicated.
func (s *State) Pending() emulator.Damage {
	if !s.dirty {
		return emulator.Damage{}
	}
	if s.full {
		return emulator.FullDamage()
	}
	return emulator.PartialDamage().Merge(emulator.PartialDamage(s.lines...))
}

// LineCaches is the default Caches: a generation counter per viewport line
// plus one for the chrome (cursor, scrollbar). A renderer keeps the
// generation it drew with and repaints when the counter moves.
type LineCaches struct {
	mu     sync.Mutex
	lines  []uint64
	chrome uint64
}

// NewLineCaches creates caches for rows lines.
func NewLineCaches(rows int) *LineCaches {
	c := &LineCaches{}
	c.Ensure(rows)
	return c
}

// Ensure resizes the cache to rows lines.
func (c *LineCaches) Ensure(rows int) {
	if rows < 0 {
		rows = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rows <= len(c.lines) {
		c.lines = c.lines[:rows]
		return
	}
	c.lines = append(c.lines, make([]uint64, rows-len(c.lines))...)
}

// Len returns the number of line caches.
func (c *LineCaches) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Generation returns the counter for a line, or 0 when out of range.
func (c *LineCaches) Generation(line int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if line < 0 || line >= len(c.lines) {
		return 0
	}
	return c.lines[line]
}

// ChromeGeneration returns the chrome counter.
func (c *LineCaches) ChromeGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chrome
}

func (c *LineCaches) InvalidateChrome() {
	c.mu.Lock()
	c.chrome++
	c.mu.Unlock()
}

func (c *LineCaches) InvalidateLine(line int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if line >= 0 && line < len(c.lines) {
		c.lines[line]++
	}
}

func (c *LineCaches) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		c.lines[i]++
	}
}

// Run calls fn every interval until ctx is done.
func Run(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	if interval <= 0 {
		interval = DefaultTick
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}
