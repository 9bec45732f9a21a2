// Package serial opens the byte stream to a module board.
package serial

import (
	"fmt"
	"io"
	"strings"
)

// Port is the serial link carrying the module protocol. The interface
// keeps the link layer testable: tests substitute an in-memory pipe,
// production code opens a native port.
type Port interface {
	io.ReadWriteCloser

	// Flush discards stale unread input, typically before a handshake.
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g. "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (USB CDC boards ignore this)
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the common configuration. The read timeout
// bounds reply waits and, on an idle stream, surfaces as io.EOF so
// read loops have a natural point to poll for cancellation.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 500,
	}
}

// Open connects to a module board. A device of the form "tcp://addr"
// dials a network-served module, such as the Linux target's host
// listener; anything else opens a native serial port.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if addr, ok := strings.CutPrefix(cfg.Device, "tcp://"); ok {
		return openTCP(addr, cfg)
	}
	return openNative(cfg)
}
