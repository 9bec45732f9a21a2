// Package link speaks the module's opcode protocol from the host side
// of the wire. A Client frames commands, checks acknowledgements and
// decodes the records the module streams back. Replies and stream
// records share one channel, so acked commands must not race an active
// position stream: configure first, stream after.
package link

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"rotomod/core"
	"rotomod/protocol"
)

var (
	// ErrHandshake reports a wrong or missing handshake reply.
	ErrHandshake = errors.New("link: handshake not acknowledged")

	// ErrRejected reports a command the module refused.
	ErrRejected = errors.New("link: command rejected")

	// ErrBadRecord reports a stream byte that is not a record tag.
	ErrBadRecord = errors.New("link: malformed stream record")
)

// Record is one decoded host-stream record.
type Record struct {
	Kind   byte   // protocol.TagPosition or protocol.TagEvent
	Pos    int16  // position records only
	Source byte   // event records: SourceExternal or SourceThreshold
	Code   byte   // event records: threshold number or injected code
	Time   uint32 // module clock, microseconds since session start
}

// LogEntry is one record replayed from the module's session log.
type LogEntry struct {
	Position int32
	Time     uint32
}

// Client drives the module protocol over any byte stream: a serial
// port, a TCP socket or an in-memory pipe.
type Client struct {
	w   io.Writer
	br  *bufio.Reader
	buf [64]byte
}

// NewClient wraps rw. The reader side is buffered; do not read from rw
// behind the client's back.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{w: rw, br: bufio.NewReader(rw)}
}

// command writes one opcode frame in a single Write call.
func (c *Client) command(op byte, payload ...byte) error {
	frame := append(c.buf[:0], op)
	frame = append(frame, payload...)
	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("link: send %q: %w", op, err)
	}
	return nil
}

func (c *Client) commandInt16(op byte, v int16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	return c.command(op, b[0], b[1])
}

func (c *Client) readAck(op byte) error {
	v, err := c.br.ReadByte()
	if err != nil {
		return fmt.Errorf("link: no ack for %q: %w", op, err)
	}
	switch v {
	case 0:
		return fmt.Errorf("%w: %q", ErrRejected, op)
	case 1:
		return nil
	default:
		return fmt.Errorf("link: unexpected ack 0x%02x for %q", v, op)
	}
}

// Handshake probes the module and checks the liveness ack. It doubles
// as a sequencing barrier: when it returns, every command sent before
// it has been dispatched.
func (c *Client) Handshake() error {
	if err := c.command(core.OpHandshake); err != nil {
		return err
	}
	v, err := c.br.ReadByte()
	if err != nil {
		return fmt.Errorf("link: handshake: %w", err)
	}
	if v != core.HandshakeAck {
		return fmt.Errorf("%w: got 0x%02x", ErrHandshake, v)
	}
	return nil
}

// StartStream turns the host position stream on. The module treats this
// as a session boundary: position, wrap count and clock restart at zero.
// There is no acknowledgement; records simply begin to arrive.
func (c *Client) StartStream() error {
	return c.command(core.OpHostStream, 1)
}

// StopStream turns the host position stream off.
func (c *Client) StopStream() error {
	return c.command(core.OpHostStream, 0)
}

// SetPeripheralStream turns the downstream display stream on or off.
func (c *Client) SetPeripheralStream(on bool) error {
	if err := c.command(core.OpPeriphStream, flag(on)); err != nil {
		return err
	}
	return c.readAck(core.OpPeriphStream)
}

// EnableEvents turns threshold event detection on or off.
func (c *Client) EnableEvents(on bool) error {
	if err := c.command(core.OpEvents, flag(on)); err != nil {
		return err
	}
	return c.readAck(core.OpEvents)
}

// SetWrapPoint programs the position wrap point; 0 disables wrapping.
func (c *Client) SetWrapPoint(wp int16) error {
	if wp < 0 {
		return fmt.Errorf("link: wrap point %d must be >= 0", wp)
	}
	if err := c.commandInt16(core.OpWrapPoint, wp); err != nil {
		return err
	}
	return c.readAck(core.OpWrapPoint)
}

// SetUnipolar selects the wrap mode: unipolar counts 0..wrap point,
// bipolar counts -wrap point..wrap point.
func (c *Client) SetUnipolar(on bool) error {
	if err := c.command(core.OpWrapMode, flag(on)); err != nil {
		return err
	}
	return c.readAck(core.OpWrapMode)
}

// SetThresholds programs the detector with values and enables them.
// The count is checked here so an oversized set never reaches the wire.
func (c *Client) SetThresholds(values []int16) error {
	if len(values) > core.MaxThresholds {
		return fmt.Errorf("link: %d thresholds exceed the %d-slot set", len(values), core.MaxThresholds)
	}
	frame := append(c.buf[:0], core.OpThresholds, byte(len(values)))
	for _, v := range values {
		frame = binary.LittleEndian.AppendUint16(frame, uint16(v))
	}
	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("link: send thresholds: %w", err)
	}
	return c.readAck(core.OpThresholds)
}

// SetPrefix programs the peripheral stream's record prefix byte.
func (c *Client) SetPrefix(prefix byte) error {
	if err := c.command(core.OpPrefix, prefix); err != nil {
		return err
	}
	return c.readAck(core.OpPrefix)
}

// EnableThresholds re-arms the detector slots named in mask, bit i for
// threshold i. Latched slots outside the mask stay fired.
func (c *Client) EnableThresholds(mask byte) error {
	return c.command(core.OpEnableMask, mask)
}

// EnableAllThresholds re-arms every programmed detector slot.
func (c *Client) EnableAllThresholds() error {
	return c.command(core.OpEnableAll)
}

// Zero sets the position to zero. When the host stream is on, the
// module confirms with an in-stream position record.
func (c *Client) Zero() error {
	return c.command(core.OpZero)
}

// SetPosition overwrites the decoder position.
func (c *Client) SetPosition(pos int16) error {
	if err := c.commandInt16(core.OpSetPosition, pos); err != nil {
		return err
	}
	return c.readAck(core.OpSetPosition)
}

// Position asks the module for its current position.
func (c *Client) Position() (int16, error) {
	if err := c.command(core.OpQuery); err != nil {
		return 0, err
	}
	var b [2]byte
	if _, err := io.ReadFull(c.br, b[:]); err != nil {
		return 0, fmt.Errorf("link: position reply: %w", err)
	}
	return int16(binary.LittleEndian.Uint16(b[:])), nil
}

// Reset returns the module to its power-on state: streams off, events
// off, log discarded, position zero. Programmed configuration survives.
func (c *Client) Reset() error {
	return c.command(core.OpReset)
}

// StartLog begins a session log recording on the module.
func (c *Client) StartLog() error {
	return c.command(core.OpLogStart)
}

// StopLog ends the recording and makes it available for ReadLog.
func (c *Client) StopLog() error {
	return c.command(core.OpLogStop)
}

// ReadLog pulls the recorded session from the module. The module clears
// the recording after a replay, so a second call returns no entries.
func (c *Client) ReadLog() ([]LogEntry, error) {
	if err := c.command(core.OpLogRead); err != nil {
		return nil, err
	}
	var hdr [4]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return nil, fmt.Errorf("link: log count: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > core.LogMaxRecords {
		return nil, fmt.Errorf("link: implausible log record count %d", n)
	}
	entries := make([]LogEntry, 0, n)
	rec := make([]byte, protocol.LogRecordSize)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(c.br, rec); err != nil {
			return entries, fmt.Errorf("link: log record %d of %d: %w", i+1, n, err)
		}
		pos, tm := protocol.DecodeLogRecord(rec)
		entries = append(entries, LogEntry{Position: pos, Time: tm})
	}
	return entries, nil
}

// ReadRecord blocks for the next host-stream record. Callers run it in
// a loop while the stream is on; a transport error ends the loop.
func (c *Client) ReadRecord() (Record, error) {
	tag, err := c.br.ReadByte()
	if err != nil {
		return Record{}, err
	}
	var b [protocol.PositionRecordSize - 1]byte
	switch tag {
	case protocol.TagPosition:
		if _, err := io.ReadFull(c.br, b[:]); err != nil {
			return Record{}, fmt.Errorf("link: short position record: %w", err)
		}
		return Record{
			Kind: tag,
			Pos:  int16(binary.LittleEndian.Uint16(b[0:2])),
			Time: binary.LittleEndian.Uint32(b[2:6]),
		}, nil
	case protocol.TagEvent:
		if _, err := io.ReadFull(c.br, b[:]); err != nil {
			return Record{}, fmt.Errorf("link: short event record: %w", err)
		}
		return Record{
			Kind:   tag,
			Source: b[0],
			Code:   b[1],
			Time:   binary.LittleEndian.Uint32(b[2:6]),
		}, nil
	default:
		return Record{}, fmt.Errorf("%w: tag 0x%02x", ErrBadRecord, tag)
	}
}

// Degrees converts a raw position to shaft angle for a given wrap
// point; 0 while wrapping is disabled.
func Degrees(pos int16, wrapPoint int16) float64 {
	if wrapPoint == 0 {
		return 0
	}
	return float64(pos) / float64(wrapPoint) * 180
}

func flag(on bool) byte {
	if on {
		return 1
	}
	return 0
}
