package storage

// SectorSize is the block size assumed for sector-aligned media.
const SectorSize = 512

// SectorBuffer adapts a Device whose writes must land on whole sectors,
// such as a raw SD card, to the byte-addressed Device interface. It keeps
// one cached sector and read-modify-writes through it; the cache is
// written back when a write moves to another sector or on Sync.
type SectorBuffer struct {
	dev    Device
	buf    [SectorSize]byte
	sector int64 // index of the cached sector, -1 when empty
	dirty  bool
}

// NewSectorBuffer wraps dev.
func NewSectorBuffer(dev Device) *SectorBuffer {
	return &SectorBuffer{dev: dev, sector: -1}
}

// load makes sector idx the cached sector, flushing any dirty cache.
func (s *SectorBuffer) load(idx int64) error {
	if s.sector == idx {
		return nil
	}
	if err := s.Sync(); err != nil {
		return err
	}
	s.sector = idx
	for i := range s.buf {
		s.buf[i] = 0
	}
	// A short or failed read leaves the unread tail zeroed.
	s.dev.ReadAt(s.buf[:], idx*SectorSize)
	return nil
}

func (s *SectorBuffer) WriteAt(p []byte, off int64) (int, error) {
	written := 0
	for len(p) > 0 {
		idx := off / SectorSize
		if err := s.load(idx); err != nil {
			return written, err
		}
		within := int(off - idx*SectorSize)
		n := copy(s.buf[within:], p)
		s.dirty = true
		p = p[n:]
		off += int64(n)
		written += n
	}
	return written, nil
}

func (s *SectorBuffer) ReadAt(p []byte, off int64) (int, error) {
	// Serve reads of the cached sector from the cache so unflushed
	// writes are visible; everything else comes from the device.
	read := 0
	for len(p) > 0 {
		idx := off / SectorSize
		within := int(off - idx*SectorSize)
		span := SectorSize - within
		if span > len(p) {
			span = len(p)
		}
		if idx == s.sector {
			copy(p[:span], s.buf[within:within+span])
		} else {
			n, err := s.dev.ReadAt(p[:span], off)
			if err != nil && n < span {
				return read + n, err
			}
		}
		p = p[span:]
		off += int64(span)
		read += span
	}
	return read, nil
}

// Sync writes back the cached sector if it holds unflushed data.
func (s *SectorBuffer) Sync() error {
	if !s.dirty || s.sector < 0 {
		return nil
	}
	if _, err := s.dev.WriteAt(s.buf[:], s.sector*SectorSize); err != nil {
		return err
	}
	s.dirty = false
	return nil
}
