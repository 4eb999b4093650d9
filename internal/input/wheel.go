package input

// PixelsPerLine converts pixel wheel deltas to lines.
const PixelsPerLine = 20

// MaxWheelLines bounds a single wheel event.
const MaxWheelLines = 100

// WheelDelta is a vertical wheel movement, in lines unless Pixels is set.
type WheelDelta struct {
	Y      float32
	Pixels bool
}

// WheelLines converts a wheel delta to a line count. Pixel deltas are
// scaled, the result is clamped, and near-zero deltas are dropped.
func WheelLines(d WheelDelta) float32 {
	delta := d.Y
	if d.Pixels {
		delta /= PixelsPerLine
	}
	if delta > MaxWheelLines {
		delta = MaxWheelLines
	} else if delta < -MaxWheelLines {
		delta = -MaxWheelLines
	}
	if delta > -0.001 && delta < 0.001 {
		return 0
	}
	return delta
}
