package core

import (
	"encoding/binary"

	"rotomod/protocol"
	"rotomod/storage"
)

// LogMaxRecords bounds one session; appends past it stop silently while
// the session stays active.
const LogMaxRecords = 1 << 20

// logChunkRecords sizes the transfer scratch at one storage sector.
const logChunkRecords = storage.SectorSize / protocol.LogRecordSize

// SessionLog appends drained samples to block storage as fixed 8-byte
// records and replays them at most once. The record count is the only
// length bookkeeping; the medium carries no header or checksum. Medium
// errors stay invisible: a failed write loses records, a short read
// replays zeros. Owned by the module loop.
type SessionLog struct {
	dev       storage.Device
	count     uint32
	active    bool
	available bool
	scratch   [logChunkRecords * protocol.LogRecordSize]byte
}

// NewSessionLog creates a log writing through dev.
func NewSessionLog(dev storage.Device) *SessionLog {
	return &SessionLog{dev: dev}
}

// Start opens a fresh session: the counter zeroes (logically truncating
// the medium), any previous availability is dropped and appends begin.
func (l *SessionLog) Start() {
	l.count = 0
	l.active = true
	l.available = false
}

// Append writes one drained batch, sector-sized chunks at a time.
func (l *SessionLog) Append(batch []Sample) {
	if !l.active {
		return
	}
	buf := l.scratch[:0]
	base := int64(l.count) * protocol.LogRecordSize
	for _, s := range batch {
		if l.count >= LogMaxRecords {
			break
		}
		buf = protocol.AppendLogRecord(buf, s.Position, s.Time)
		l.count++
		if len(buf) == len(l.scratch) {
			l.dev.WriteAt(buf, base)
			base += int64(len(buf))
			buf = l.scratch[:0]
		}
	}
	if len(buf) > 0 {
		l.dev.WriteAt(buf, base)
	}
}

// Stop freezes the session. With at least one record written the log
// becomes available for one read-back. Media buffering writes behind a
// Sync method is flushed here.
func (l *SessionLog) Stop() {
	l.active = false
	if l.count > 0 {
		l.available = true
	}
	if s, ok := l.dev.(interface{ Sync() error }); ok {
		s.Sync()
	}
}

// ReadBack replays the session to ch: a 4-byte little-endian record
// count, then the raw records in sector-sized chunks. Afterwards the
// counter resets and availability clears, so a session reads back at
// most once. With nothing available it sends a count of zero and no
// payload.
func (l *SessionLog) ReadBack(ch protocol.Channel) {
	var head [4]byte
	if !l.available {
		ch.Write(head[:])
		ch.Flush()
		return
	}
	binary.LittleEndian.PutUint32(head[:], l.count)
	ch.Write(head[:])

	total := int64(l.count) * protocol.LogRecordSize
	for off := int64(0); off < total; {
		span := int64(len(l.scratch))
		if total-off < span {
			span = total - off
		}
		chunk := l.scratch[:span]
		n, _ := l.dev.ReadAt(chunk, off)
		for i := n; i < len(chunk); i++ {
			chunk[i] = 0
		}
		ch.Write(chunk)
		off += span
	}
	ch.Flush()

	l.count = 0
	l.available = false
}

// Discard drops the session state entirely: not active, nothing
// available, counter zeroed.
func (l *SessionLog) Discard() {
	l.count = 0
	l.active = false
	l.available = false
}

// Count returns the records written this session.
func (l *SessionLog) Count() uint32 {
	return l.count
}

// Active reports whether appends are running.
func (l *SessionLog) Active() bool {
	return l.active
}

// Available reports whether a stopped session awaits read-back.
func (l *SessionLog) Available() bool {
	return l.available
}
