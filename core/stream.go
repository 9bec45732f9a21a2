package core

import "rotomod/protocol"

// appendPositionRecords encodes a drained batch as host-stream position
// records. The caller concatenates the batch's event records after them
// and sends the whole frame as one write.
func appendPositionRecords(buf []byte, batch []Sample) []byte {
	for _, s := range batch {
		buf = protocol.AppendPosition(buf, s.Position, s.Time)
	}
	return buf
}

// appendPeripheralRecords encodes a drained batch for the downstream
// peripheral: prefix byte plus the position rebased by rebase so the
// peripheral never sees a negative value, at the configured width.
func appendPeripheralRecords(buf []byte, batch []Sample, prefix byte, width int, rebase int32) []byte {
	for _, s := range batch {
		buf = protocol.AppendPeripheral(buf, prefix, uint32(int32(s.Position)+rebase), width)
	}
	return buf
}
