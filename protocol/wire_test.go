package protocol

import (
	"bytes"
	"testing"
)

func TestAppendPosition(t *testing.T) {
	rec := AppendPosition(nil, -2, 0x01020304)

	want := []byte{'P', 0xFE, 0xFF, 0x04, 0x03, 0x02, 0x01}
	if !bytes.Equal(rec, want) {
		t.Errorf("Expected record %v, got %v", want, rec)
	}
	if len(rec) != PositionRecordSize {
		t.Errorf("Expected %d bytes, got %d", PositionRecordSize, len(rec))
	}
}

func TestAppendEvent(t *testing.T) {
	rec := AppendEvent(nil, SourceThreshold, 3, 1000)

	want := []byte{'E', 1, 3, 0xE8, 0x03, 0x00, 0x00}
	if !bytes.Equal(rec, want) {
		t.Errorf("Expected record %v, got %v", want, rec)
	}
	if len(rec) != EventRecordSize {
		t.Errorf("Expected %d bytes, got %d", EventRecordSize, len(rec))
	}
}

func TestLogRecordRoundTrip(t *testing.T) {
	cases := []struct {
		pos  int16
		time uint32
	}{
		{0, 0},
		{511, 123456},
		{-512, 0xFFFFFFFF},
		{-1, 42},
	}

	for _, c := range cases {
		rec := AppendLogRecord(nil, c.pos, c.time)
		if len(rec) != LogRecordSize {
			t.Fatalf("Expected %d bytes, got %d", LogRecordSize, len(rec))
		}
		pos, tm := DecodeLogRecord(rec)
		if pos != int32(c.pos) || tm != c.time {
			t.Errorf("Round trip of (%d, %d) gave (%d, %d)", c.pos, c.time, pos, tm)
		}
	}
}

func TestLogRecordSignExtension(t *testing.T) {
	rec := AppendLogRecord(nil, -300, 7)

	// The 16-bit position must be widened to 32 bits on the medium.
	want := []byte{0xD4, 0xFE, 0xFF, 0xFF, 0x07, 0x00, 0x00, 0x00}
	if !bytes.Equal(rec, want) {
		t.Errorf("Expected record %v, got %v", want, rec)
	}
}

func TestAppendPeripheralWidths(t *testing.T) {
	rec := AppendPeripheral(nil, 0xAA, 0x0102, 2)
	want := []byte{0xAA, 0x02, 0x01}
	if !bytes.Equal(rec, want) {
		t.Errorf("Expected 2-byte record %v, got %v", want, rec)
	}

	rec = AppendPeripheral(nil, 0x55, 0x01020304, 4)
	want = []byte{0x55, 0x04, 0x03, 0x02, 0x01}
	if !bytes.Equal(rec, want) {
		t.Errorf("Expected 4-byte record %v, got %v", want, rec)
	}
}

func TestAppendConcatenation(t *testing.T) {
	// A drain frame concatenates records into one slice without
	// separators.
	buf := AppendPosition(nil, 10, 1)
	buf = AppendPosition(buf, 20, 2)
	buf = AppendEvent(buf, SourceExternal, 9, 3)

	if len(buf) != 2*PositionRecordSize+EventRecordSize {
		t.Fatalf("Expected %d bytes, got %d", 2*PositionRecordSize+EventRecordSize, len(buf))
	}
	if buf[0] != TagPosition || buf[PositionRecordSize] != TagPosition || buf[2*PositionRecordSize] != TagEvent {
		t.Errorf("Record tags misplaced in frame %v", buf)
	}
}
