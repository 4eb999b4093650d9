package redraw

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biaogd/rivett/internal/emulator"
)

type recordingCaches struct {
	chrome int
	all    int
	lines  map[int]int
}

func newRecording() *recordingCaches { return &recordingCaches{lines: map[int]int{}} }

func (r *recordingCaches) InvalidateChrome()       { r.chrome++ }
func (r *recordingCaches) InvalidateLine(line int) { r.lines[line]++ }
func (r *recordingCaches) InvalidateAll()          { r.all++ }

var t0 = time.Unix(1700000000, 0)

func ms(n int) time.Time { return t0.Add(time.Duration(n) * time.Millisecond) }

func TestApply_DeduplicatesPartialLines(t *testing.T) {
	s := NewState(0, 0, t0)
	s.AddDamage(emulator.PartialDamage(3, 1), t0)
	s.AddDamage(emulator.PartialDamage(3, 2), t0)

	c := newRecording()
	s.Apply(t0, c)

	assert.Equal(t, map[int]int{1: 1, 2: 1, 3: 1}, c.lines)
	assert.Equal(t, 1, c.chrome)
	assert.Equal(t, 0, c.all)
	assert.False(t, s.Dirty())
}

func TestApply_FullOverridesLines(t *testing.T) {
	s := NewState(0, 0, t0)
	s.AddDamage(emulator.PartialDamage(1), t0)
	s.AddDamage(emulator.FullDamage(), t0)
	s.AddDamage(emulator.PartialDamage(2), t0)
	assert.True(t, s.Pending().Full)

	c := newRecording()
	s.Apply(t0, c)
	assert.Equal(t, 1, c.all)
	assert.Empty(t, c.lines)
	assert.Equal(t, 1, c.chrome, "chrome is invalidated unconditionally")
}

func TestTick_WaitsForSilenceOrFrame(t *testing.T) {
	s := NewState(5*time.Millisecond, 16*time.Millisecond, t0)
	c := newRecording()

	// Data keeps arriving every 2ms, so the stream is never quiet for 5ms
	applied := -1
	for now := 0; now <= 30; now += 2 {
		s.AddDamage(emulator.PartialDamage(0), ms(now))
		if s.Tick(ms(now+1), c) {
			applied = now + 1
			break
		}
	}
	assert.Equal(t, 17, applied, "forced frame after more than 16ms since the last redraw")
}

func TestTick_AppliesAfterQuietPeriod(t *testing.T) {
	s := NewState(5*time.Millisecond, 16*time.Millisecond, t0)
	c := newRecording()

	s.AddDamage(emulator.PartialDamage(4), ms(1))
	assert.False(t, s.Tick(ms(3), c), "2ms of silence is not enough")
	assert.False(t, s.Tick(ms(6), c), "exactly 5ms is not more than 5ms")
	assert.True(t, s.Tick(ms(7), c))
	assert.Equal(t, map[int]int{4: 1}, c.lines)

	assert.False(t, s.Tick(ms(100), c), "nothing pending")
}

func TestAddDamage_IgnoresEmpty(t *testing.T) {
	s := NewState(0, 0, t0)
	s.AddDamage(emulator.Damage{}, t0)
	assert.False(t, s.Dirty())
	assert.True(t, s.Pending().Empty())
}

func TestLineCaches(t *testing.T) {
	c := NewLineCaches(24)
	require.Equal(t, 24, c.Len())

	s := NewState(0, 0, t0)
	s.AddDamage(emulator.PartialDamage(3, 1, 3, 2), t0)
	s.Apply(t0, c)

	assert.Equal(t, uint64(0), c.Generation(0))
	assert.Equal(t, uint64(1), c.Generation(1))
	assert.Equal(t, uint64(1), c.Generation(2))
	assert.Equal(t, uint64(1), c.Generation(3))
	assert.Equal(t, uint64(1), c.ChromeGeneration())

	c.InvalidateAll()
	assert.Equal(t, uint64(2), c.Generation(3))
	c.InvalidateLine(99) // out of range is ignored
	assert.Equal(t, uint64(0), c.Generation(99))

	c.Ensure(40)
	assert.Equal(t, 40, c.Len())
	c.Ensure(24)
	assert.Equal(t, 24, c.Len(), "shrinking back restores the previous count")
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan struct{})
	go func() {
		Run(ctx, time.Millisecond, func(time.Time) {
			if ticks.Add(1) == 3 {
				cancel()
			}
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.GreaterOrEqual(t, ticks.Load(), int32(3))
}
