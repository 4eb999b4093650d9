package emulator

import (
	"image/color"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Damage describes which viewport lines must be redrawn. A zero Damage
// means nothing changed.
type Damage struct {
	Full  bool
	Lines []int // sorted, unique viewport line indices; ignored when Full
}

// FullDamage invalidates the whole viewport.
func FullDamage() Damage { return Damage{Full: true} }

// PartialDamage invalidates the given lines. Duplicates are kept; the
// redraw scheduler deduplicates before applying.
func PartialDamage(lines ...int) Damage { return Damage{Lines: lines} }

// Empty reports whether d invalidates nothing.
func (d Damage) Empty() bool { return !d.Full && len(d.Lines) == 0 }

// Merge combines two damages.
func (d Damage) Merge(o Damage) Damage {
	if d.Full || o.Full {
		return FullDamage()
	}
	lines := append(append([]int(nil), d.Lines...), o.Lines...)
	return Damage{Lines: dedupe(lines)}
}

func dedupe(lines []int) []int {
	if len(lines) == 0 {
		return nil
	}
	sort.Ints(lines)
	out := lines[:1]
	for _, l := range lines[1:] {
		if l != out[len(out)-1] {
			out = append(out, l)
		}
	}
	return out
}

// lineHash fingerprints everything that affects how a viewport line renders.
func (e *Emulator) lineHash(line int, r selRange) uint64 {
	d := xxhash.New()
	var buf [24]byte
	for col := 0; col < e.cols; col++ {
		c := e.gridCell(col, line-e.displayOffset)
		if c == nil {
			buf[0] = 0
			_, _ = d.Write(buf[:1])
			continue
		}
		putUint32(buf[0:], uint32(c.Char))
		putUint32(buf[4:], rgba(c.Fg))
		putUint32(buf[8:], rgba(c.Bg))
		putUint32(buf[12:], uint32(c.Flags))
		sel := uint32(0)
		if r.contains(Point{Col: col, Line: line - e.displayOffset}) {
			sel = 1
		}
		putUint32(buf[16:], sel)
		_, _ = d.Write(buf[:20])
	}
	return d.Sum64()
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func rgba(c color.Color) uint32 {
	if c == nil {
		return 0
	}
	r, g, b, a := c.RGBA()
	return (r>>8)<<24 | (g>>8)<<16 | (b>>8)<<8 | a>>8
}

// computeDamageLocked diffs current line fingerprints against the ones
// taken at the previous call. Rows the VT model reports dirty are added
// even when their fingerprint is unchanged.
func (e *Emulator) computeDamageLocked() Damage {
	r := e.selRangeLocked()
	hashes := make([]uint64, e.rows)
	for line := range hashes {
		hashes[line] = e.lineHash(line, r)
	}

	full := e.fullDamage || len(e.prevHashes) != len(hashes)
	var lines []int
	if !full {
		for line, h := range hashes {
			if h != e.prevHashes[line] {
				lines = append(lines, line)
			}
		}
		if e.term.HasDirty() {
			for _, p := range e.term.DirtyCells() {
				if v := p.Row + e.displayOffset; v >= 0 && v < e.rows {
					lines = append(lines, v)
				}
			}
		}
		lines = dedupe(lines)
		if len(lines) == e.rows {
			full = true
		}
	}

	e.term.ClearDirty()
	e.prevHashes = hashes
	e.fullDamage = false

	if full {
		return FullDamage()
	}
	return Damage{Lines: lines}
}
