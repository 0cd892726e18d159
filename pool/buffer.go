package pool

import (
	"github.com/pkg/errors"

	"pipelined.dev/graph"
)

// Buffer is a fixed-size block of allocator storage with length and time
// metadata. A buffer is writable only while exactly one reference to it is
// held. When the last reference is released, the buffer returns to its
// allocator.
type Buffer struct {
	pool  *Allocator
	index int

	prefix []byte
	data   []byte

	// all fields below are guarded by pool mutex.
	refs    int32
	length  int
	start   int64
	end     int64
	timed   bool
	retired bool
}

// Index returns the position of the buffer inside its allocator.
func (b *Buffer) Index() int {
	return b.index
}

// Size returns the capacity of the buffer.
func (b *Buffer) Size() int {
	return len(b.data)
}

// Bytes returns the whole writable area of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Prefix returns the header room that precedes the data area.
func (b *Buffer) Prefix() []byte {
	return b.prefix
}

// Data returns the bytes actually produced.
func (b *Buffer) Data() []byte {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	return b.data[:b.length]
}

// Len returns the number of bytes actually produced.
func (b *Buffer) Len() int {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	return b.length
}

// SetLen sets the number of bytes actually produced.
func (b *Buffer) SetLen(n int) error {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	if err := b.writable(); err != nil {
		return err
	}
	if n < 0 || n > len(b.data) {
		return errors.Wrapf(graph.ErrInvalidArgument, "length %d exceeds capacity %d", n, len(b.data))
	}
	b.length = n
	return nil
}

// Time returns the [start, end) timestamps. Ok is false if they were not
// set.
func (b *Buffer) Time() (start, end int64, ok bool) {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	return b.start, b.end, b.timed
}

// SetTime stamps the buffer.
func (b *Buffer) SetTime(start, end int64) error {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	if err := b.writable(); err != nil {
		return err
	}
	if end < start {
		return errors.Wrapf(graph.ErrInvalidArgument, "end %d before start %d", end, start)
	}
	b.start, b.end, b.timed = start, end, true
	return nil
}

// ClearTime removes the timestamps.
func (b *Buffer) ClearTime() error {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	if err := b.writable(); err != nil {
		return err
	}
	b.start, b.end, b.timed = 0, 0, false
	return nil
}

// Writable reports whether the caller holds the only reference.
func (b *Buffer) Writable() bool {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	return b.writable() == nil
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int32 {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	return b.refs
}

// AddRef takes another reference. Buffers that are free can only be
// obtained with Acquire.
func (b *Buffer) AddRef() error {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	if b.retired || b.refs <= 0 {
		return errors.Wrap(graph.ErrUnexpected, "reference to a free buffer")
	}
	b.refs++
	return nil
}

// Release drops a reference. It's a shorthand for the allocator Release.
func (b *Buffer) Release() error {
	return b.pool.Release(b)
}

func (b *Buffer) writable() error {
	if b.retired || b.refs != 1 {
		return errors.Wrapf(graph.ErrWrongState, "buffer %d has %d references", b.index, b.refs)
	}
	return nil
}

// reset clears metadata when buffer is handed out.
func (b *Buffer) reset() {
	b.length = 0
	b.start, b.end, b.timed = 0, 0, false
}
