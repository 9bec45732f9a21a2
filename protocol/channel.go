// Package protocol defines the byte-level contracts of the encoder module:
// the record encodings shared by the firmware and its host tools, and the
// Channel abstraction the dispatcher serves. Channels are deliberately
// minimal so that a hardware UART, a TCP socket and an in-memory pipe all
// fit behind the same seam.
package protocol

import (
	"io"
	"sync"
)

// Channel is one byte-oriented endpoint served by the module. Reads block
// until satisfied; Available reports what can be read without blocking.
// Write queues bytes and Flush pushes them to the underlying transport.
// None of the methods report errors: a dead transport reads as silence,
// matching the module's silent error model.
type Channel interface {
	Available() int
	ReadByte() byte
	ReadFull(p []byte)
	Write(p []byte)
	Flush()
}

// NullChannel is a Channel connected to nothing: never readable, reads
// produce zeros, writes vanish. It stands in for unwired module channels.
type NullChannel struct{}

func (NullChannel) Available() int { return 0 }
func (NullChannel) ReadByte() byte { return 0 }
func (NullChannel) Write(p []byte) {}
func (NullChannel) Flush()         {}

func (NullChannel) ReadFull(p []byte) {
	for i := range p {
		p[i] = 0
	}
}

// pipeCapacity is the ring size behind each in-memory pipe direction.
// Large enough to hold a full drain frame plus replies without the writer
// blocking on an idle reader.
const pipeCapacity = 1 << 16

// pipeHalf is one direction of an in-memory byte link: a FifoBuffer
// guarded by a mutex, with a condition variable for blocking reads and
// writes. Closing wakes all waiters; reads then drain and return zeros,
// writes are dropped.
type pipeHalf struct {
	mu     sync.Mutex
	cond   *sync.Cond
	fifo   *FifoBuffer
	closed bool
}

func newPipeHalf() *pipeHalf {
	h := &pipeHalf{fifo: NewFifoBuffer(pipeCapacity)}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *pipeHalf) available() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fifo.Available()
}

func (h *pipeHalf) write(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for len(p) > 0 && !h.closed {
		n := h.fifo.Write(p)
		p = p[n:]
		if n > 0 {
			h.cond.Broadcast()
		}
		if len(p) > 0 {
			h.cond.Wait()
		}
	}
}

func (h *pipeHalf) readFull(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for len(p) > 0 {
		n := h.fifo.Read(p)
		p = p[n:]
		if n > 0 {
			h.cond.Broadcast()
		}
		if len(p) == 0 {
			return
		}
		if h.closed {
			for i := range p {
				p[i] = 0
			}
			return
		}
		h.cond.Wait()
	}
}

// readSome blocks for at least one byte, then reads up to len(p).
// Returns 0 only when the half is closed and drained.
func (h *pipeHalf) readSome(p []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.fifo.IsEmpty() && !h.closed {
		h.cond.Wait()
	}
	n := h.fifo.Read(p)
	if n > 0 {
		h.cond.Broadcast()
	}
	return n
}

func (h *pipeHalf) close() {
	h.mu.Lock()
	h.closed = true
	h.cond.Broadcast()
	h.mu.Unlock()
}

// PipeEnd is one end of an in-memory bidirectional byte link. It
// implements Channel; the opposite end is typically driven through IO()
// by host-side code speaking io.Reader/io.Writer.
type PipeEnd struct {
	rd *pipeHalf
	wr *pipeHalf
}

// NewPipe returns the two ends of a connected in-memory link.
func NewPipe() (*PipeEnd, *PipeEnd) {
	a := newPipeHalf()
	b := newPipeHalf()
	return &PipeEnd{rd: a, wr: b}, &PipeEnd{rd: b, wr: a}
}

func (e *PipeEnd) Available() int    { return e.rd.available() }
func (e *PipeEnd) Write(p []byte)    { e.wr.write(p) }
func (e *PipeEnd) Flush()            {}
func (e *PipeEnd) ReadFull(p []byte) { e.rd.readFull(p) }

func (e *PipeEnd) ReadByte() byte {
	var b [1]byte
	e.rd.readFull(b[:])
	return b[0]
}

// Close shuts down both directions and wakes any blocked peer.
func (e *PipeEnd) Close() {
	e.rd.close()
	e.wr.close()
}

// IO adapts the end to io.ReadWriter for host-side use. Read blocks for
// at least one byte and returns io.EOF once the link is closed and
// drained; Write never fails short of a closed link.
func (e *PipeEnd) IO() io.ReadWriter { return endIO{e} }

type endIO struct{ e *PipeEnd }

func (a endIO) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := a.e.rd.readSome(p)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (a endIO) Write(p []byte) (int, error) {
	a.e.wr.write(p)
	a.e.wr.mu.Lock()
	closed := a.e.wr.closed
	a.e.wr.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	return len(p), nil
}

// StreamChannel adapts a byte stream (socket, pty, serial port) to the
// Channel interface. A pump goroutine copies inbound bytes into an
// internal ring so Available and the blocking reads behave like a UART
// receive buffer. Write and Flush must only be called from the module
// loop; outbound bytes gather in a scratch slice until Flush.
type StreamChannel struct {
	rx  *pipeHalf
	w   io.Writer
	out []byte
}

// NewStreamChannel wraps rw and starts the receive pump. The pump exits
// when rw's Read fails; the channel then reads as closed.
func NewStreamChannel(rw io.ReadWriter) *StreamChannel {
	c := &StreamChannel{rx: newPipeHalf(), w: rw, out: make([]byte, 0, 256)}
	go c.pump(rw)
	return c
}

func (c *StreamChannel) pump(r io.Reader) {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.rx.write(buf[:n])
		}
		if err != nil {
			c.rx.close()
			return
		}
	}
}

func (c *StreamChannel) Available() int    { return c.rx.available() }
func (c *StreamChannel) ReadFull(p []byte) { c.rx.readFull(p) }

func (c *StreamChannel) ReadByte() byte {
	var b [1]byte
	c.rx.readFull(b[:])
	return b[0]
}

func (c *StreamChannel) Write(p []byte) { c.out = append(c.out, p...) }

func (c *StreamChannel) Flush() {
	if len(c.out) == 0 {
		return
	}
	c.w.Write(c.out)
	c.out = c.out[:0]
}
