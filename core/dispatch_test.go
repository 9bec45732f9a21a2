package core

import (
	"testing"

	"rotomod/protocol"
)

func TestSourceMaskAllows(t *testing.T) {
	cases := []struct {
		mask SourceMask
		src  Source
		want bool
	}{
		{MaskHost, SourceHost, true},
		{MaskHost, SourceUpstream, false},
		{MaskHost, SourceDownstream, false},
		{MaskUpstream, SourceUpstream, true},
		{MaskUpstream, SourceHost, false},
		{MaskAny, SourceHost, true},
		{MaskAny, SourceUpstream, true},
		{MaskAny, SourceDownstream, true},
	}
	for _, c := range cases {
		if got := c.mask.Allows(c.src); got != c.want {
			t.Errorf("Mask %b allows %s: expected %v, got %v", c.mask, c.src, c.want, got)
		}
	}
}

// TestCommandAuthorizationTable pins the per-opcode source restrictions.
// The asymmetry (some opcodes any-source, most host-only, two
// upstream-only) is deliberate observed behavior.
func TestCommandAuthorizationTable(t *testing.T) {
	m := NewModule(Options{})

	hostOnly := []byte{OpHandshake, OpHostStream, OpEvents, OpWrapPoint, OpWrapMode, OpThresholds, OpPrefix, OpLogRead, OpQuery, OpSetPosition}
	upstreamOnly := []byte{OpIdentify, OpInjectEvent}
	anySource := []byte{OpPeriphStream, OpEnableMask, OpZero, OpEnableAll, OpLogStart, OpLogStop, OpReset}

	sources := []Source{SourceHost, SourceUpstream, SourceDownstream}

	for _, op := range hostOnly {
		for _, src := range sources {
			want := src == SourceHost
			if got := m.disp.Allowed(op, src); got != want {
				t.Errorf("Opcode %q from %s: expected allowed=%v, got %v", op, src, want, got)
			}
		}
	}
	for _, op := range upstreamOnly {
		for _, src := range sources {
			want := src == SourceUpstream
			if got := m.disp.Allowed(op, src); got != want {
				t.Errorf("Opcode %q from %s: expected allowed=%v, got %v", op, src, want, got)
			}
		}
	}
	for _, op := range anySource {
		for _, src := range sources {
			if !m.disp.Allowed(op, src) {
				t.Errorf("Opcode %q from %s: expected allowed", op, src)
			}
		}
	}

	if len(hostOnly)+len(upstreamOnly)+len(anySource) != len(m.disp.commands) {
		t.Errorf("Registered %d opcodes, table covers %d", len(m.disp.commands),
			len(hostOnly)+len(upstreamOnly)+len(anySource))
	}
}

func TestDispatchUnknownOpcodeIgnored(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Register('A', MaskAny, func(Source, protocol.Channel) { called = true })

	d.Dispatch('B', SourceHost, protocol.NullChannel{})
	if called {
		t.Error("Unknown opcode must not invoke another handler")
	}
	if d.Allowed('B', SourceHost) {
		t.Error("Unknown opcode should not be allowed")
	}
}

func TestDispatchUnauthorizedLeavesPayload(t *testing.T) {
	d := NewDispatcher()
	d.Register('W', MaskHost, func(_ Source, ch protocol.Channel) {
		var payload [2]byte
		ch.ReadFull(payload[:])
	})

	near, far := protocol.NewPipe()
	far.Write([]byte{0x34, 0x12})

	// An unauthorized dispatch must not consume the payload bytes.
	d.Dispatch('W', SourceUpstream, near)
	if near.Available() != 2 {
		t.Errorf("Expected 2 unread payload bytes, got %d", near.Available())
	}

	// The same dispatch from the authorized source consumes them.
	d.Dispatch('W', SourceHost, near)
	if near.Available() != 0 {
		t.Errorf("Expected payload consumed, got %d bytes left", near.Available())
	}
}
