//go:build rp2040 || rp2350

package main

import (
	"time"
)

// serialPort is the slice of the TinyGo serial API the channel adapter
// needs. machine.Serial (USB CDC) and *machine.UART both provide it.
type serialPort interface {
	Buffered() int
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
}

// boardChannel adapts a serial port to the module's channel contract.
// Reads spin-yield until satisfied, like a consumer blocked on a UART
// receive buffer; writes gather in a scratch slice so one drain frame
// leaves the port as a single write.
type boardChannel struct {
	port serialPort
	out  []byte
}

func newBoardChannel(port serialPort) *boardChannel {
	return &boardChannel{port: port, out: make([]byte, 0, 256)}
}

func (c *boardChannel) Available() int { return c.port.Buffered() }

func (c *boardChannel) ReadByte() byte {
	for {
		if b, err := c.port.ReadByte(); err == nil {
			return b
		}
		time.Sleep(50 * time.Microsecond)
	}
}

func (c *boardChannel) ReadFull(p []byte) {
	for i := range p {
		p[i] = c.ReadByte()
	}
}

func (c *boardChannel) Write(p []byte) {
	c.out = append(c.out, p...)
}

// Flush pushes the gathered bytes out. A write error means the port is
// gone; the remainder drops, matching the module's silent error model.
func (c *boardChannel) Flush() {
	buf := c.out
	for len(buf) > 0 {
		n, err := c.port.Write(buf)
		if err != nil || n == 0 {
			break
		}
		buf = buf[n:]
	}
	c.out = c.out[:0]
}
