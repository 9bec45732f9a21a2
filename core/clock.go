package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the module's shared microsecond timebase. Every stream record
// and log record carries its readings; Reset rebases it to zero. The
// counter wraps after about 71 minutes, which callers accept the same way
// the hardware timer's low word is accepted.
type Clock interface {
	Now() uint32
	Reset()
}

// WallClock derives microseconds from the host monotonic clock. Safe to
// read from the edge goroutine and the module loop concurrently.
type WallClock struct {
	mu   sync.Mutex
	base time.Time
}

// NewWallClock returns a WallClock rebased to now.
func NewWallClock() *WallClock {
	return &WallClock{base: time.Now()}
}

func (c *WallClock) Now() uint32 {
	c.mu.Lock()
	base := c.base
	c.mu.Unlock()
	return uint32(time.Since(base).Microseconds())
}

func (c *WallClock) Reset() {
	c.mu.Lock()
	c.base = time.Now()
	c.mu.Unlock()
}

// ManualClock is a hand-stepped Clock for tests.
type ManualClock struct {
	now atomic.Uint32
}

func (c *ManualClock) Now() uint32 {
	return c.now.Load()
}

func (c *ManualClock) Reset() {
	c.now.Store(0)
}

// Set moves the clock to t microseconds.
func (c *ManualClock) Set(t uint32) {
	c.now.Store(t)
}

// Advance steps the clock forward by d microseconds.
func (c *ManualClock) Advance(d uint32) {
	c.now.Add(d)
}
