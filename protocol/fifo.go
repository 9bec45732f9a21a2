package protocol

// FifoBuffer is a fixed-capacity byte ring used behind channel endpoints.
// One slot stays open to distinguish full from empty, so a buffer built
// with capacity n holds n-1 bytes. Not safe for concurrent use; callers
// provide their own locking.
type FifoBuffer struct {
	buf   []byte
	read  int
	write int
	size  int
}

// NewFifoBuffer creates a FifoBuffer with the given capacity.
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{
		buf:  make([]byte, capacity),
		size: capacity,
	}
}

// Write copies as much of data as fits and returns the number taken.
func (f *FifoBuffer) Write(data []byte) int {
	free := f.Free()
	if len(data) > free {
		data = data[:free]
	}
	written := 0
	for written < len(data) {
		end := f.size
		if f.read > f.write {
			end = f.read - 1
		} else if f.read == 0 {
			end = f.size - 1
		}
		n := copy(f.buf[f.write:end], data[written:])
		if n == 0 {
			break
		}
		f.write = (f.write + n) % f.size
		written += n
	}
	return written
}

// Read copies up to len(data) bytes out and returns the number copied.
func (f *FifoBuffer) Read(data []byte) int {
	read := 0
	for read < len(data) && f.read != f.write {
		end := f.write
		if f.read > f.write {
			end = f.size
		}
		n := copy(data[read:], f.buf[f.read:end])
		f.read = (f.read + n) % f.size
		read += n
	}
	return read
}

// Available returns the number of bytes ready to read.
func (f *FifoBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return f.size - f.read + f.write
}

// Free returns the number of bytes that can be written.
func (f *FifoBuffer) Free() int {
	return f.size - f.Available() - 1
}

// IsEmpty returns true if the buffer holds no data.
func (f *FifoBuffer) IsEmpty() bool {
	return f.read == f.write
}

// Reset clears the buffer.
func (f *FifoBuffer) Reset() {
	f.read = 0
	f.write = 0
}
