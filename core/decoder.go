package core

import "sync/atomic"

// DefaultWrapPoint maps the 1024 tic/rev encoder to ±180 degrees.
const DefaultWrapPoint = 512

// Decoder turns quadrature edge transitions into confirmed position
// steps, applying the wrap policy before each step is committed.
//
// Edge runs in interrupt context and is the sole writer of the direction
// state; every other method belongs to the module loop. Position and wrap
// count cross the context boundary as atomics, so loop-side reads are
// eventually consistent with the latest edge. X1 decoding: the interrupt
// fires on one phase line only, and a step counts only when two
// consecutive edges agree on direction, which doubles as the debounce.
type Decoder struct {
	pos   atomic.Int32
	wraps atomic.Int32

	wrapPoint atomic.Int32
	unipolar  atomic.Bool

	lastDir int32 // interrupt context only
}

// Edge processes one transition of the interrupt phase. a is the new
// level of the triggering phase, b the level of the other phase. It
// returns the committed position and true when the edge confirmed a step.
func (d *Decoder) Edge(a, b bool) (int16, bool) {
	dir := int32(-1)
	if a != b {
		dir = 1
	}
	if dir != d.lastDir {
		d.lastDir = dir
		return 0, false
	}

	pos := d.pos.Load() + dir
	wp := d.wrapPoint.Load()
	if wp != 0 {
		if d.unipolar.Load() {
			if pos > wp {
				pos = 0
				d.wraps.Add(1)
			} else if pos < 0 {
				pos = wp
				d.wraps.Add(-1)
			}
		} else {
			if pos <= -wp {
				pos = wp
				d.wraps.Add(-1)
			} else if pos >= wp {
				pos = -wp
				d.wraps.Add(1)
			}
		}
	}
	d.pos.Store(pos)
	return int16(pos), true
}

// Position returns the current position.
func (d *Decoder) Position() int16 {
	return int16(d.pos.Load())
}

// Wraps returns the net wrap count since the last reset.
func (d *Decoder) Wraps() int32 {
	return d.wraps.Load()
}

// SetPosition moves the position and zeroes the wrap count.
func (d *Decoder) SetPosition(p int16) {
	d.pos.Store(int32(p))
	d.wraps.Store(0)
}

// ResetWraps zeroes the wrap count only.
func (d *Decoder) ResetWraps() {
	d.wraps.Store(0)
}

// Reset zeroes position and wrap count. The direction state is left
// alone; the next pair of agreeing edges re-confirms it.
func (d *Decoder) Reset() {
	d.pos.Store(0)
	d.wraps.Store(0)
}

// WrapPoint returns the active wrap point, 0 meaning wrapping disabled.
func (d *Decoder) WrapPoint() int16 {
	return int16(d.wrapPoint.Load())
}

// SetWrapPoint installs a new wrap point, clamps the position into the
// new range and zeroes the wrap count. A wrap point of 0 disables
// wrapping and leaves the position unbounded.
func (d *Decoder) SetWrapPoint(wp int16) {
	d.wrapPoint.Store(int32(wp))
	if wp != 0 {
		lo, hi := int32(-wp), int32(wp)
		if d.unipolar.Load() {
			lo = 0
		}
		if pos := d.pos.Load(); pos < lo {
			d.pos.Store(lo)
		} else if pos > hi {
			d.pos.Store(hi)
		}
	}
	d.wraps.Store(0)
}

// Unipolar returns true when the zero-based wrap mode is active.
func (d *Decoder) Unipolar() bool {
	return d.unipolar.Load()
}

// SetUnipolar selects the wrap mode and zeroes the wrap count. The
// position is not clamped here; the next wrap pass normalizes it.
func (d *Decoder) SetUnipolar(u bool) {
	d.unipolar.Store(u)
	d.wraps.Store(0)
}
