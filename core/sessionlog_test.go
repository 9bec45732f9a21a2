package core

import (
	"encoding/binary"
	"testing"

	"rotomod/protocol"
	"rotomod/storage"
)

// drainChannel empties the far pipe end into a slice.
func drainChannel(far *protocol.PipeEnd) []byte {
	n := far.Available()
	buf := make([]byte, n)
	if n > 0 {
		far.ReadFull(buf)
	}
	return buf
}

func TestSessionLogRoundTrip(t *testing.T) {
	log := NewSessionLog(storage.NewMemDevice(4096))

	samples := []Sample{
		{Position: 10, Time: 100},
		{Position: -20, Time: 200},
		{Position: 30, Time: 300},
	}
	log.Start()
	log.Append(samples)
	log.Stop()

	if !log.Available() {
		t.Fatal("Log should be available after stop with records")
	}

	near, far := protocol.NewPipe()
	log.ReadBack(near)
	out := drainChannel(far)

	if len(out) != 4+3*protocol.LogRecordSize {
		t.Fatalf("Expected %d bytes, got %d", 4+3*protocol.LogRecordSize, len(out))
	}
	if count := binary.LittleEndian.Uint32(out[:4]); count != 3 {
		t.Fatalf("Expected count 3, got %d", count)
	}
	for i, want := range samples {
		rec := out[4+i*protocol.LogRecordSize:]
		pos, tm := protocol.DecodeLogRecord(rec)
		if pos != int32(want.Position) || tm != want.Time {
			t.Errorf("Record %d: expected (%d, %d), got (%d, %d)", i, want.Position, want.Time, pos, tm)
		}
	}
}

func TestSessionLogReadBackOnce(t *testing.T) {
	log := NewSessionLog(storage.NewMemDevice(4096))

	log.Start()
	log.Append([]Sample{{Position: 1, Time: 1}, {Position: 2, Time: 2}, {Position: 3, Time: 3}})
	log.Stop()

	near, far := protocol.NewPipe()
	log.ReadBack(near)
	first := drainChannel(far)
	if len(first) != 4+24 {
		t.Fatalf("Expected 28 bytes on first read-back, got %d", len(first))
	}

	// A second read-back without a new session yields count 0, no payload.
	log.ReadBack(near)
	second := drainChannel(far)
	if len(second) != 4 {
		t.Fatalf("Expected bare 4-byte count, got %d bytes", len(second))
	}
	if count := binary.LittleEndian.Uint32(second); count != 0 {
		t.Errorf("Expected count 0, got %d", count)
	}
}

func TestSessionLogEmptySessionNotAvailable(t *testing.T) {
	log := NewSessionLog(storage.NewMemDevice(256))

	log.Start()
	log.Stop()
	if log.Available() {
		t.Error("Session with no records should not become available")
	}

	near, far := protocol.NewPipe()
	log.ReadBack(near)
	out := drainChannel(far)
	if len(out) != 4 || binary.LittleEndian.Uint32(out) != 0 {
		t.Errorf("Expected count 0 reply, got %v", out)
	}
}

func TestSessionLogInactiveAppendIgnored(t *testing.T) {
	log := NewSessionLog(storage.NewMemDevice(256))

	log.Append([]Sample{{Position: 1, Time: 1}})
	if log.Count() != 0 {
		t.Errorf("Append before Start should not count, got %d", log.Count())
	}

	log.Start()
	log.Stop()
	log.Append([]Sample{{Position: 1, Time: 1}})
	if log.Count() != 0 {
		t.Errorf("Append after Stop should not count, got %d", log.Count())
	}
}

func TestSessionLogLargeBatchChunked(t *testing.T) {
	const n = 200 // crosses several sector-sized chunks
	dev := storage.NewMemDevice(n * protocol.LogRecordSize)
	log := NewSessionLog(dev)

	batch := make([]Sample, n)
	for i := range batch {
		batch[i] = Sample{Position: int16(i - 100), Time: uint32(i)}
	}
	log.Start()
	log.Append(batch)
	log.Stop()

	if log.Count() != n {
		t.Fatalf("Expected %d records, got %d", n, log.Count())
	}
	for i := 0; i < n; i++ {
		pos, tm := protocol.DecodeLogRecord(dev.Bytes()[i*protocol.LogRecordSize:])
		if pos != int32(i-100) || tm != uint32(i) {
			t.Fatalf("Record %d: expected (%d, %d), got (%d, %d)", i, i-100, i, pos, tm)
		}
	}
}

func TestSessionLogRestartTruncates(t *testing.T) {
	log := NewSessionLog(storage.NewMemDevice(4096))

	log.Start()
	log.Append([]Sample{{Position: 1, Time: 1}, {Position: 2, Time: 2}})
	log.Stop()

	// A new session logically truncates: only its own records replay.
	log.Start()
	log.Append([]Sample{{Position: 9, Time: 9}})
	log.Stop()

	near, far := protocol.NewPipe()
	log.ReadBack(near)
	out := drainChannel(far)
	if count := binary.LittleEndian.Uint32(out[:4]); count != 1 {
		t.Fatalf("Expected count 1 after restart, got %d", count)
	}
	pos, tm := protocol.DecodeLogRecord(out[4:])
	if pos != 9 || tm != 9 {
		t.Errorf("Expected record (9, 9), got (%d, %d)", pos, tm)
	}
}

func TestSessionLogDeviceErrorsStaySilent(t *testing.T) {
	// A device far too small for the session: writes fail, nothing
	// panics, and read-back zero-fills what the medium lost.
	log := NewSessionLog(storage.NewMemDevice(16))

	batch := make([]Sample, 20)
	for i := range batch {
		batch[i] = Sample{Position: 1, Time: uint32(i)}
	}
	log.Start()
	log.Append(batch)
	log.Stop()

	if log.Count() != 20 {
		t.Fatalf("Expected count 20 regardless of medium errors, got %d", log.Count())
	}

	near, far := protocol.NewPipe()
	log.ReadBack(near)
	out := drainChannel(far)
	if len(out) != 4+20*protocol.LogRecordSize {
		t.Fatalf("Expected full-length replay, got %d bytes", len(out))
	}
	for _, b := range out[4+16:] {
		if b != 0 {
			t.Fatal("Bytes beyond the device end should replay as zeros")
		}
	}
}

func TestSessionLogDiscard(t *testing.T) {
	log := NewSessionLog(storage.NewMemDevice(256))

	log.Start()
	log.Append([]Sample{{Position: 1, Time: 1}})
	log.Stop()
	log.Discard()

	if log.Available() || log.Active() || log.Count() != 0 {
		t.Error("Discard should clear availability, activity and count")
	}
}

func TestSessionLogStopSyncsSectorBuffer(t *testing.T) {
	dev := storage.NewMemDevice(2 * storage.SectorSize)
	log := NewSessionLog(storage.NewSectorBuffer(dev))

	log.Start()
	log.Append([]Sample{{Position: 42, Time: 7}})

	// Still parked in the sector cache before Stop.
	if pos, _ := protocol.DecodeLogRecord(dev.Bytes()); pos == 42 {
		t.Error("Record reached the device before Stop")
	}

	log.Stop()
	pos, tm := protocol.DecodeLogRecord(dev.Bytes())
	if pos != 42 || tm != 7 {
		t.Errorf("Expected flushed record (42, 7), got (%d, %d)", pos, tm)
	}
}
