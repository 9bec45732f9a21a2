package protocol

import (
	"bytes"
	"testing"
)

func TestFifoBufferBasic(t *testing.T) {
	fifo := NewFifoBuffer(10)

	if !fifo.IsEmpty() {
		t.Error("New FIFO should be empty")
	}
	if fifo.Free() != 9 {
		t.Errorf("Expected 9 free (one slot reserved), got %d", fifo.Free())
	}

	n := fifo.Write([]byte{1, 2, 3, 4})
	if n != 4 {
		t.Errorf("Expected to write 4 bytes, got %d", n)
	}
	if fifo.Available() != 4 {
		t.Errorf("Expected 4 available, got %d", fifo.Available())
	}

	out := make([]byte, 3)
	n = fifo.Read(out)
	if n != 3 || !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Errorf("Expected to read [1 2 3], got %v (n=%d)", out[:n], n)
	}
	if fifo.Available() != 1 {
		t.Errorf("Expected 1 available after read, got %d", fifo.Available())
	}
}

func TestFifoBufferFull(t *testing.T) {
	fifo := NewFifoBuffer(5)

	n := fifo.Write([]byte{1, 2, 3, 4, 5, 6})
	if n != 4 {
		t.Errorf("Expected capacity-1=4 bytes written, got %d", n)
	}
	if fifo.Free() != 0 {
		t.Errorf("Expected 0 free when full, got %d", fifo.Free())
	}

	n = fifo.Write([]byte{7})
	if n != 0 {
		t.Errorf("Expected 0 written to full FIFO, got %d", n)
	}
}

func TestFifoBufferWrapAround(t *testing.T) {
	fifo := NewFifoBuffer(8)

	// Advance the read/write positions so the next write wraps.
	fifo.Write([]byte{1, 2, 3, 4, 5})
	out := make([]byte, 5)
	fifo.Read(out)

	n := fifo.Write([]byte{10, 11, 12, 13, 14, 15})
	if n != 6 {
		t.Fatalf("Expected 6 bytes written across the wrap, got %d", n)
	}
	if fifo.Available() != 6 {
		t.Errorf("Expected 6 available, got %d", fifo.Available())
	}

	out = make([]byte, 6)
	n = fifo.Read(out)
	if n != 6 || !bytes.Equal(out, []byte{10, 11, 12, 13, 14, 15}) {
		t.Errorf("Expected wrapped data back in order, got %v (n=%d)", out[:n], n)
	}
	if !fifo.IsEmpty() {
		t.Error("FIFO should be empty after draining")
	}
}

func TestFifoBufferInterleaved(t *testing.T) {
	fifo := NewFifoBuffer(4)
	var got []byte
	next := byte(0)

	// Stream 100 bytes through a 4-byte ring in small pieces.
	for next < 100 {
		chunk := []byte{next, next + 1}
		if next+2 > 100 {
			chunk = chunk[:1]
		}
		w := fifo.Write(chunk)
		next += byte(w)

		out := make([]byte, 3)
		r := fifo.Read(out)
		got = append(got, out[:r]...)
	}
	for fifo.Available() > 0 {
		out := make([]byte, 3)
		r := fifo.Read(out)
		got = append(got, out[:r]...)
	}

	if len(got) != 100 {
		t.Fatalf("Expected 100 bytes out, got %d", len(got))
	}
	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("Byte %d out of order: got %d", i, b)
		}
	}
}

func TestFifoBufferReset(t *testing.T) {
	fifo := NewFifoBuffer(8)
	fifo.Write([]byte{1, 2, 3})
	fifo.Reset()

	if !fifo.IsEmpty() || fifo.Available() != 0 {
		t.Error("Reset should empty the FIFO")
	}
}
