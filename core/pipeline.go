package core

import "sync/atomic"

// BufferCapacity is the sample capacity of each half of the pipeline.
const BufferCapacity = 1024

// Sample is one confirmed decoder step: the committed position and the
// microsecond clock reading at commit time. Immutable once produced.
type Sample struct {
	Position int16
	Time     uint32
}

// Pipeline is the single-producer single-consumer double buffer that
// carries samples from interrupt context to the module loop.
//
// The entire handoff state lives in one 64-bit word: bits 0..31 hold the
// write target's sample count, bit 32 the write-target selector, bit 33
// the data-ready flag. The producer publishes each sample with a CAS on
// that word; the consumer performs the whole exchange (capture count,
// flip target, zero the new target's count, clear the flag) as a single
// atomic swap, so no step of it can interleave with a producer update.
type Pipeline struct {
	state atomic.Uint64
	bufs  [2][BufferCapacity]Sample
}

const (
	pipeCountMask uint64 = 0xFFFFFFFF
	pipeIndexBit  uint64 = 1 << 32
	pipeReadyBit  uint64 = 1 << 33
)

// Put appends one sample to the active write target and raises the ready
// flag. A full target drops the sample silently; the real-time contract
// is that the loop drains faster than the encoder fills.
func (p *Pipeline) Put(s Sample) {
	for {
		st := p.state.Load()
		count := st & pipeCountMask
		if count >= BufferCapacity {
			return
		}
		idx := 0
		if st&pipeIndexBit != 0 {
			idx = 1
		}
		p.bufs[idx][count] = s
		next := (st | pipeReadyBit) &^ pipeCountMask | (count + 1)
		if p.state.CompareAndSwap(st, next) {
			return
		}
		// The consumer swapped mid-publish; retry into the new target.
	}
}

// Ready reports whether undrained samples are pending.
func (p *Pipeline) Ready() bool {
	return p.state.Load()&pipeReadyBit != 0
}

// Exchange hands the filled buffer to the consumer. It flips the write
// target and clears count and flag in one swap; the returned slice is
// the drained batch and stays valid until the next Exchange. Returns nil
// when no data is ready.
//
// A producer publish between the load and the swap lands in the same
// target (only Exchange flips the selector) and is captured by the
// swapped-out word, so no sample is lost at the boundary.
func (p *Pipeline) Exchange() []Sample {
	st := p.state.Load()
	if st&pipeReadyBit == 0 {
		return nil
	}
	next := (st ^ pipeIndexBit) &^ (pipeReadyBit | pipeCountMask)
	old := p.state.Swap(next)

	count := old & pipeCountMask
	idx := 0
	if old&pipeIndexBit != 0 {
		idx = 1
	}
	return p.bufs[idx][:count]
}

// Reset discards any pending samples and clears the handoff state.
func (p *Pipeline) Reset() {
	p.state.Store(0)
}
