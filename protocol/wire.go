package protocol

import "encoding/binary"

// Host stream record tags
const (
	TagPosition = 'P' // position sample record
	TagEvent    = 'E' // discrete event record
)

// Fixed record sizes in bytes
const (
	PositionRecordSize = 7 // tag + int16 position + uint32 time
	EventRecordSize    = 7 // tag + source + code + uint32 time
	LogRecordSize      = 8 // int32 position + uint32 time
)

// Event source codes carried in the source byte of an event record
const (
	SourceExternal  = 0 // injected by the upstream state machine
	SourceThreshold = 1 // raised by the threshold detector
)

// AppendPosition appends one host-stream position record to buf.
func AppendPosition(buf []byte, pos int16, t uint32) []byte {
	buf = append(buf, TagPosition)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(pos))
	return binary.LittleEndian.AppendUint32(buf, t)
}

// AppendEvent appends one host-stream event record to buf.
func AppendEvent(buf []byte, source, code byte, t uint32) []byte {
	buf = append(buf, TagEvent, source, code)
	return binary.LittleEndian.AppendUint32(buf, t)
}

// AppendLogRecord appends one on-medium session log record to buf.
// The position slot is widened to 32 bits on the medium.
func AppendLogRecord(buf []byte, pos int16, t uint32) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(pos)))
	return binary.LittleEndian.AppendUint32(buf, t)
}

// DecodeLogRecord decodes one 8-byte session log record.
func DecodeLogRecord(b []byte) (pos int32, t uint32) {
	pos = int32(binary.LittleEndian.Uint32(b))
	t = binary.LittleEndian.Uint32(b[4:8])
	return pos, t
}

// AppendPeripheral appends one peripheral-stream record to buf: the
// configured prefix byte, then the rebased position as a 2- or 4-byte
// little-endian unsigned integer. Any width other than 4 encodes 2 bytes.
func AppendPeripheral(buf []byte, prefix byte, value uint32, width int) []byte {
	buf = append(buf, prefix)
	if width == 4 {
		return binary.LittleEndian.AppendUint32(buf, value)
	}
	return binary.LittleEndian.AppendUint16(buf, uint16(value))
}
