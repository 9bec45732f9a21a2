package core

import "encoding/binary"

// Module identity, answered to the enumeration probe on the upstream
// channel and to the host handshake.
const (
	FirmwareVersion = 2
	ModuleName      = "RotaryEncoder"
	HandshakeAck    = 217
	identityAck     = 'A'
)

// appendIdentity builds the enumeration reply: ack byte, firmware
// version, name length, name bytes, and a zero "more modules" flag.
func appendIdentity(buf []byte) []byte {
	buf = append(buf, identityAck)
	buf = binary.LittleEndian.AppendUint32(buf, FirmwareVersion)
	buf = append(buf, byte(len(ModuleName)))
	buf = append(buf, ModuleName...)
	return append(buf, 0)
}
