//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"sync/atomic"
	"unsafe"
)

// RP2040/RP2350 timer peripheral: a free-running 64-bit counter at 1 MHz.
// The module timebase only needs the low word.
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x08 // raw counter high word
	timerTIMERAWL = timerBase + 0x0C // raw counter low word
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// hwClock is the module timebase: the raw microsecond counter minus a
// rebase offset. The pin interrupt and the loop both read it; Reset
// only stores the atomic offset, so no further locking is needed.
type hwClock struct {
	offset atomic.Uint32
}

func (c *hwClock) Now() uint32 {
	// Unsigned subtraction stays correct across counter rollover.
	return timerRAWL.Get() - c.offset.Load()
}

func (c *hwClock) Reset() {
	c.offset.Store(timerRAWL.Get())
}
