// Package storage provides the random-access seam the session log writes
// through, a memory-backed device for tests and simulation, and a
// sector-aligning adapter for media that only accept whole-sector writes.
package storage

import (
	"fmt"
	"io"
)

// Device is the storage medium behind the session log. *os.File satisfies
// it directly; raw block media are wrapped in a SectorBuffer first.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

// MemDevice is a fixed-size in-memory Device.
type MemDevice struct {
	data []byte
}

// NewMemDevice creates a MemDevice holding size bytes.
func NewMemDevice(size int) *MemDevice {
	return &MemDevice{data: make([]byte, size)}
}

func (d *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (d *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(d.data)) {
		return 0, fmt.Errorf("storage: write offset %d out of range", off)
	}
	n := copy(d.data[off:], p)
	if n < len(p) {
		return n, fmt.Errorf("storage: device full at offset %d", off+int64(n))
	}
	return n, nil
}

// Bytes exposes the underlying buffer for test inspection.
func (d *MemDevice) Bytes() []byte {
	return d.data
}

// Size returns the device capacity in bytes.
func (d *MemDevice) Size() int {
	return len(d.data)
}
