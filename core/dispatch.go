package core

import "rotomod/protocol"

// Source identifies the channel a command arrived on.
type Source uint8

const (
	SourceHost Source = iota
	SourceUpstream
	SourceDownstream
)

func (s Source) String() string {
	switch s {
	case SourceHost:
		return "host"
	case SourceUpstream:
		return "upstream"
	case SourceDownstream:
		return "downstream"
	}
	return "unknown"
}

// SourceMask is the set of sources a command accepts.
type SourceMask uint8

const (
	MaskHost       SourceMask = 1 << SourceHost
	MaskUpstream   SourceMask = 1 << SourceUpstream
	MaskDownstream SourceMask = 1 << SourceDownstream
	MaskAny                   = MaskHost | MaskUpstream | MaskDownstream
)

// Allows reports whether src is in the set.
func (m SourceMask) Allows(src Source) bool {
	return m&(1<<src) != 0
}

// Handler runs one dispatched command. src names the arriving channel;
// ch is that channel, for payload reads and replies.
type Handler func(src Source, ch protocol.Channel)

type command struct {
	mask    SourceMask
	handler Handler
}

// Dispatcher maps opcode bytes to handlers with per-opcode source
// authorization. An unknown opcode, or a known one from a source outside
// its mask, is dropped without reading any payload; the module signals
// nothing in either case.
type Dispatcher struct {
	commands map[byte]command
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{commands: make(map[byte]command)}
}

// Register installs the handler for an opcode, replacing any previous
// registration. Registration happens once at module construction; the
// map is read-only afterwards.
func (d *Dispatcher) Register(op byte, mask SourceMask, h Handler) {
	d.commands[op] = command{mask: mask, handler: h}
}

// Allowed reports whether op accepts commands from src.
func (d *Dispatcher) Allowed(op byte, src Source) bool {
	c, ok := d.commands[op]
	return ok && c.mask.Allows(src)
}

// Dispatch runs the handler for op if one is registered and src is
// authorized.
func (d *Dispatcher) Dispatch(op byte, src Source, ch protocol.Channel) {
	c, ok := d.commands[op]
	if !ok || !c.mask.Allows(src) {
		return
	}
	c.handler(src, ch)
}
