package emulator

// Scroll accumulates a fractional wheel delta and scrolls whole lines once
// the running sum reaches ±1. The integer part is truncated toward zero and
// the remainder carried: 0.4, 0.4, 0.3 scrolls 0, 0, then 1 line with 0.1
// left over. Positive deltas move into history. Returns the lines requested.
func (e *Emulator) Scroll(delta float32) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.scrollAcc += delta
	steps := int(e.scrollAcc)
	if steps == 0 {
		return 0
	}
	e.scrollAcc -= float32(steps)
	e.scrollLinesLocked(steps)
	return steps
}

// ScrollLines scrolls by whole lines, bypassing the accumulator.
func (e *Emulator) ScrollLines(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scrollLinesLocked(n)
}

// ScrollToBottom returns the view to live output.
func (e *Emulator) ScrollToBottom() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scrollAcc = 0
	e.scrollLinesLocked(-e.displayOffset)
}

func (e *Emulator) scrollLinesLocked(n int) {
	max := 0
	if !e.term.IsAlternateScreen() {
		max = e.term.ScrollbackLen()
	}
	offset := e.displayOffset + n
	if offset < 0 {
		offset = 0
	}
	if offset > max {
		offset = max
	}
	if offset != e.displayOffset {
		e.displayOffset = offset
		e.fullDamage = true
	}
}

// ScrollState returns the total line count (history plus screen), the
// current display offset and the screen height, for scrollbar rendering.
func (e *Emulator) ScrollState() (total, offset, screen int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.term.ScrollbackLen() + e.rows, e.displayOffset, e.rows
}

// scrollRemainder returns the unapplied fractional delta.
func (e *Emulator) scrollRemainder() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scrollAcc
}
