// Package core implements the firmware core of the rotary-encoder
// module: the interrupt-rate quadrature decoder, the double-buffered
// sample pipeline, the threshold detector, the three-channel command
// protocol, the stream encoders and the session log. Everything outside
// HandleEdge runs on one cooperative loop; HandleEdge is the only code
// meant for interrupt context.
package core

import (
	"context"
	"encoding/binary"
	"time"

	"rotomod/protocol"
	"rotomod/storage"
)

// Opcode bytes of the module protocol.
const (
	OpIdentify     = 0xFF
	OpHandshake    = 'C'
	OpHostStream   = 'S'
	OpPeriphStream = 'O'
	OpEvents       = 'V'
	OpInjectEvent  = '#'
	OpWrapPoint    = 'W'
	OpWrapMode     = 'M'
	OpThresholds   = 'T'
	OpPrefix       = 'I'
	OpEnableMask   = ';'
	OpZero         = 'Z'
	OpEnableAll    = 'E'
	OpLogStart     = 'L'
	OpLogStop      = 'F'
	OpLogRead      = 'R'
	OpQuery        = 'Q'
	OpSetPosition  = 'P'
	OpReset        = 'X'
)

// defaultLogSize sizes the fallback in-memory log device.
const defaultLogSize = 64 * 1024

// Options configure a Module at construction. Unset channels connect to
// a NullChannel and an unset LogDevice gets a small in-memory device.
// WrapPoint 0 selects DefaultWrapPoint; wrapping is disabled at run time
// by sending the wrap-point command with 0. PeriphWidth picks the
// peripheral-stream integer width, 2 unless it is 4.
type Options struct {
	Clock       Clock
	Host        protocol.Channel
	Upstream    protocol.Channel
	Downstream  protocol.Channel
	LogDevice   storage.Device
	WrapPoint   int16
	Unipolar    bool
	PeriphWidth int
}

// Module wires the core components together and owns the loop state.
type Module struct {
	clock Clock
	dec   Decoder
	pipe  Pipeline
	log   *SessionLog
	disp  *Dispatcher
	cfg   Config

	// polled in Source order: host first, then upstream, downstream
	channels [3]protocol.Channel

	periphWidth int
	invWrap     float32

	frame  []byte // drain frame scratch, reused every iteration
	events []byte // event records latched during the current drain
	reply  [8]byte
}

// NewModule builds a Module from opts and registers the opcode table.
func NewModule(opts Options) *Module {
	m := &Module{
		clock:       opts.Clock,
		periphWidth: 2,
	}
	if m.clock == nil {
		m.clock = NewWallClock()
	}
	if opts.PeriphWidth == 4 {
		m.periphWidth = 4
	}

	m.channels[SourceHost] = opts.Host
	m.channels[SourceUpstream] = opts.Upstream
	m.channels[SourceDownstream] = opts.Downstream
	for i, ch := range m.channels {
		if ch == nil {
			m.channels[i] = protocol.NullChannel{}
		}
	}

	dev := opts.LogDevice
	if dev == nil {
		dev = storage.NewMemDevice(defaultLogSize)
	}
	m.log = NewSessionLog(dev)

	wp := opts.WrapPoint
	if wp == 0 {
		wp = DefaultWrapPoint
	}
	m.setWrapPoint(wp)
	m.dec.SetUnipolar(opts.Unipolar)

	m.frame = make([]byte, 0, BufferCapacity*protocol.PositionRecordSize+MaxThresholds*protocol.EventRecordSize)
	m.events = make([]byte, 0, MaxThresholds*protocol.EventRecordSize)

	m.disp = NewDispatcher()
	m.registerCommands()
	return m
}

func (m *Module) registerCommands() {
	d := m.disp
	d.Register(OpIdentify, MaskUpstream, m.cmdIdentify)
	d.Register(OpHandshake, MaskHost, m.cmdHandshake)
	d.Register(OpHostStream, MaskHost, m.cmdHostStream)
	d.Register(OpPeriphStream, MaskAny, m.cmdPeriphStream)
	d.Register(OpEvents, MaskHost, m.cmdEvents)
	d.Register(OpInjectEvent, MaskUpstream, m.cmdInjectEvent)
	d.Register(OpWrapPoint, MaskHost, m.cmdWrapPoint)
	d.Register(OpWrapMode, MaskHost, m.cmdWrapMode)
	d.Register(OpThresholds, MaskHost, m.cmdThresholds)
	d.Register(OpPrefix, MaskHost, m.cmdPrefix)
	d.Register(OpEnableMask, MaskAny, m.cmdEnableMask)
	d.Register(OpZero, MaskAny, m.cmdZero)
	d.Register(OpEnableAll, MaskAny, m.cmdEnableAll)
	d.Register(OpLogStart, MaskAny, m.cmdLogStart)
	d.Register(OpLogStop, MaskAny, m.cmdLogStop)
	d.Register(OpLogRead, MaskHost, m.cmdLogRead)
	d.Register(OpQuery, MaskHost, m.cmdQuery)
	d.Register(OpSetPosition, MaskHost, m.cmdSetPosition)
	d.Register(OpReset, MaskAny, m.cmdReset)
}

// HandleEdge is the interrupt entry point. a is the new level of the
// triggering phase, b the other phase's level; a confirmed step commits
// one timestamped sample to the pipeline.
func (m *Module) HandleEdge(a, b bool) {
	if pos, ok := m.dec.Edge(a, b); ok {
		m.pipe.Put(Sample{Position: pos, Time: m.clock.Now()})
	}
}

// RunOnce performs one loop iteration: dispatch at most one pending
// command across the three channels, then drain the pipeline if samples
// are ready. Returns true when it did any work.
func (m *Module) RunOnce() bool {
	busy := m.pollOnce()
	if m.pipe.Ready() {
		m.drain()
		return true
	}
	return busy
}

// Run drives the loop until ctx is done, backing off briefly when idle.
// MCU mains call RunOnce directly instead.
func (m *Module) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !m.RunOnce() {
			time.Sleep(500 * time.Microsecond)
		}
	}
}

// pollOnce dispatches at most one opcode, honoring the fixed channel
// priority. Sustained host traffic can starve the other channels; the
// expected command rate makes that acceptable.
func (m *Module) pollOnce() bool {
	for src := SourceHost; src <= SourceDownstream; src++ {
		ch := m.channels[src]
		if ch.Available() > 0 {
			m.disp.Dispatch(ch.ReadByte(), src, ch)
			return true
		}
	}
	return false
}

// drain exchanges the filled buffer half and runs it through the
// threshold detector, both stream encoders and the session log, in that
// order.
func (m *Module) drain() {
	batch := m.pipe.Exchange()
	if len(batch) == 0 {
		return
	}
	m.events = m.events[:0]
	if m.cfg.EventsEnabled && m.dec.Wraps() == 0 {
		m.cfg.Thresholds.Detect(batch, m.fireThreshold)
	}
	if m.cfg.HostStream {
		m.frame = appendPositionRecords(m.frame[:0], batch)
		m.frame = append(m.frame, m.events...)
		host := m.channels[SourceHost]
		host.Write(m.frame)
		host.Flush()
	}
	if m.cfg.PeriphStream {
		rebase := int32(0)
		if !m.dec.Unipolar() {
			rebase = int32(m.dec.WrapPoint())
		}
		m.frame = appendPeripheralRecords(m.frame[:0], batch, m.cfg.PeriphPrefix, m.periphWidth, rebase)
		down := m.channels[SourceDownstream]
		down.Write(m.frame)
		down.Flush()
	}
	m.log.Append(batch)
}

// fireThreshold reports one latched crossing: the 1-based threshold
// index goes to the upstream state machine immediately, and an event
// record joins the current drain frame when the host stream is on.
func (m *Module) fireThreshold(index int, s Sample) {
	up := m.channels[SourceUpstream]
	m.reply[0] = byte(index + 1)
	up.Write(m.reply[:1])
	up.Flush()
	if m.cfg.HostStream {
		m.events = protocol.AppendEvent(m.events, protocol.SourceThreshold, byte(index+1), s.Time)
	}
}

// Position returns the current decoder position.
func (m *Module) Position() int16 {
	return m.dec.Position()
}

// Wraps returns the net wrap count since the last reset.
func (m *Module) Wraps() int32 {
	return m.dec.Wraps()
}

// Degrees converts a position to degrees using the cached inverse of the
// wrap point; 0 while wrapping is disabled.
func (m *Module) Degrees(pos int16) float32 {
	return float32(pos) * m.invWrap * 180
}

func (m *Module) setWrapPoint(wp int16) {
	m.dec.SetWrapPoint(wp)
	if wp != 0 {
		m.invWrap = 1 / float32(wp)
	} else {
		m.invWrap = 0
	}
}

func (m *Module) writeByte(ch protocol.Channel, v byte) {
	m.reply[0] = v
	ch.Write(m.reply[:1])
	ch.Flush()
}

func (m *Module) readInt16(ch protocol.Channel) int16 {
	ch.ReadFull(m.reply[:2])
	return int16(binary.LittleEndian.Uint16(m.reply[:2]))
}

func (m *Module) cmdIdentify(src Source, ch protocol.Channel) {
	ch.Write(appendIdentity(m.frame[:0]))
	ch.Flush()
}

func (m *Module) cmdHandshake(src Source, ch protocol.Channel) {
	m.writeByte(ch, HandshakeAck)
}

// cmdHostStream starts or stops the host position stream. Starting is a
// session boundary: position, wrap count and clock restart at zero and
// samples from before the boundary are discarded.
func (m *Module) cmdHostStream(src Source, ch protocol.Channel) {
	on := ch.ReadByte() != 0
	m.cfg.HostStream = on
	if on {
		m.dec.Reset()
		m.clock.Reset()
		m.pipe.Reset()
	}
}

func (m *Module) cmdPeriphStream(src Source, ch protocol.Channel) {
	m.cfg.PeriphStream = ch.ReadByte() != 0
	if src == SourceHost {
		m.writeByte(ch, 1)
	}
}

func (m *Module) cmdEvents(src Source, ch protocol.Channel) {
	m.cfg.EventsEnabled = ch.ReadByte() != 0
	m.writeByte(ch, 1)
}

func (m *Module) cmdInjectEvent(src Source, ch protocol.Channel) {
	code := ch.ReadByte()
	if m.cfg.HostStream {
		host := m.channels[SourceHost]
		host.Write(protocol.AppendEvent(m.frame[:0], protocol.SourceExternal, code, m.clock.Now()))
		host.Flush()
	}
}

func (m *Module) cmdWrapPoint(src Source, ch protocol.Channel) {
	m.setWrapPoint(m.readInt16(ch))
	m.writeByte(ch, 1)
}

func (m *Module) cmdWrapMode(src Source, ch protocol.Channel) {
	m.dec.SetUnipolar(ch.ReadByte() != 0)
	m.writeByte(ch, 1)
}

// cmdThresholds programs the threshold set whole. An oversized count is
// refused with ack 0 before any value bytes are read, leaving the
// previous set in place.
func (m *Module) cmdThresholds(src Source, ch protocol.Channel) {
	n := int(ch.ReadByte())
	if n > MaxThresholds {
		m.writeByte(ch, 0)
		return
	}
	var values [MaxThresholds]int16
	for i := 0; i < n; i++ {
		values[i] = m.readInt16(ch)
	}
	m.cfg.Thresholds.Program(values[:n])
	m.writeByte(ch, 1)
}

func (m *Module) cmdPrefix(src Source, ch protocol.Channel) {
	m.cfg.PeriphPrefix = ch.ReadByte()
	m.writeByte(ch, 1)
}

func (m *Module) cmdEnableMask(src Source, ch protocol.Channel) {
	m.cfg.Thresholds.EnableMask(ch.ReadByte())
	m.dec.ResetWraps()
}

func (m *Module) cmdZero(src Source, ch protocol.Channel) {
	m.dec.SetPosition(0)
	if m.cfg.HostStream {
		host := m.channels[SourceHost]
		host.Write(protocol.AppendPosition(m.frame[:0], 0, m.clock.Now()))
		host.Flush()
	}
}

func (m *Module) cmdEnableAll(src Source, ch protocol.Channel) {
	m.cfg.Thresholds.EnableAll()
	m.dec.ResetWraps()
}

func (m *Module) cmdLogStart(src Source, ch protocol.Channel) {
	m.log.Start()
	m.clock.Reset()
}

func (m *Module) cmdLogStop(src Source, ch protocol.Channel) {
	m.log.Stop()
}

func (m *Module) cmdLogRead(src Source, ch protocol.Channel) {
	m.log.ReadBack(ch)
}

func (m *Module) cmdQuery(src Source, ch protocol.Channel) {
	binary.LittleEndian.PutUint16(m.reply[:2], uint16(m.dec.Position()))
	ch.Write(m.reply[:2])
	ch.Flush()
}

func (m *Module) cmdSetPosition(src Source, ch protocol.Channel) {
	m.dec.SetPosition(m.readInt16(ch))
	m.writeByte(ch, 1)
}

// cmdReset returns streaming, event, log and position state to initial.
// Wrap point, wrap mode, thresholds and the peripheral prefix survive.
func (m *Module) cmdReset(src Source, ch protocol.Channel) {
	m.cfg.HostStream = false
	m.cfg.PeriphStream = false
	m.cfg.EventsEnabled = false
	m.log.Discard()
	m.dec.Reset()
	m.pipe.Reset()
}
