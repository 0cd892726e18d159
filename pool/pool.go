/*
Package pool provides the buffer allocator shared by connected pins.

Allocator hands out a fixed number of same-sized buffers. Storage is created
in one block when the allocator is committed and dropped when it's
decommitted. Acquire blocks while every buffer is held, each release wakes
all blocked acquirers.

Decommit never blocks: it refuses further acquisitions, aborts blocked
acquirers and drops the storage as soon as the last outstanding buffer is
released. Use DecommitWait to wait for that moment.
*/
package pool

import (
	"context"
	"math"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"pipelined.dev/graph"
	"pipelined.dev/graph/log"
	"pipelined.dev/graph/metric"
)

// MaxCommit limits the size of storage block a single allocator can commit.
var MaxCommit = 1 << 30

// Properties define the layout of allocator buffers.
type Properties struct {
	// Count is the number of buffers.
	Count int
	// Size is the usable size of every buffer.
	Size int
	// Align is the alignment of every buffer, power of two.
	Align int
	// Prefix is the header room that precedes every buffer.
	Prefix int
}

func (p Properties) stride() int {
	return p.Size + p.Prefix
}

// Stats is a snapshot of allocator bookkeeping.
type Stats struct {
	Free  int
	InUse int
}

// Allocator is a pool of buffers with commit/decommit lifecycle.
type Allocator struct {
	log     logrus.FieldLogger
	measure metric.MeasureFunc

	mu           sync.Mutex
	props        Properties
	set          bool
	committed    bool
	decommitting bool
	block        []byte
	buffers      []*Buffer
	free         []*Buffer
	holders      int
	// signal is closed and replaced on every release.
	signal chan struct{}
	// idle is closed when storage is dropped after decommit.
	idle chan struct{}
}

// New returns an uncommitted allocator without properties.
func New() *Allocator {
	a := Allocator{
		signal: make(chan struct{}),
	}
	a.log = log.GetLogger().WithField("component", "allocator")
	a.measure = metric.Meter(&a, 0)
	return &a
}

// SetProperties validates requested properties and returns the actual
// ones. Buffer size is padded so every buffer including its prefix is
// aligned.
func (a *Allocator) SetProperties(req Properties) (Properties, error) {
	if req.Count <= 0 {
		return Properties{}, errors.Wrapf(graph.ErrInvalidArgument, "buffer count %d", req.Count)
	}
	if req.Size <= 0 {
		return Properties{}, errors.Wrapf(graph.ErrInvalidArgument, "buffer size %d", req.Size)
	}
	if req.Align <= 0 || req.Align&(req.Align-1) != 0 {
		return Properties{}, errors.Wrapf(graph.ErrInvalidArgument, "alignment %d is not a power of two", req.Align)
	}
	if req.Prefix < 0 {
		return Properties{}, errors.Wrapf(graph.ErrInvalidArgument, "prefix %d", req.Prefix)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.committed {
		return a.props, errors.Wrap(graph.ErrWrongState, "allocator is committed")
	}
	actual := req
	stride := req.Size + req.Prefix
	if rem := stride % req.Align; rem != 0 {
		actual.Size += req.Align - rem
	}
	a.props = actual
	a.set = true
	return actual, nil
}

// Properties returns the actual properties.
func (a *Allocator) Properties() (Properties, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.set {
		return Properties{}, errors.Wrap(graph.ErrUnexpected, "properties are not set")
	}
	return a.props, nil
}

// Commit allocates the storage and all buffers. Committing a committed
// allocator is a no-op that also cancels pending decommit.
func (a *Allocator) Commit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.set {
		return errors.Wrap(graph.ErrUnexpected, "properties are not set")
	}
	if a.committed {
		if a.decommitting {
			a.log.Debug("pending decommit cancelled")
			a.decommitting = false
		}
		return nil
	}

	stride := a.props.stride()
	if a.props.Count > (math.MaxInt-a.props.Align)/stride {
		return errors.Wrapf(graph.ErrOutOfMemory, "%d buffers of %d bytes", a.props.Count, stride)
	}
	total := a.props.Count*stride + a.props.Align
	if total > MaxCommit {
		return errors.Wrapf(graph.ErrOutOfMemory, "commit of %d bytes exceeds limit %d", total, MaxCommit)
	}
	block := make([]byte, total)
	offset := alignOffset(block, a.props.Align)

	buffers := make([]*Buffer, a.props.Count)
	free := make([]*Buffer, 0, a.props.Count)
	for i := range buffers {
		start := offset + i*stride
		b := &Buffer{
			pool:   a,
			index:  i,
			prefix: block[start : start+a.props.Prefix : start+a.props.Prefix],
			data:   block[start+a.props.Prefix : start+stride : start+stride],
		}
		buffers[i] = b
		free = append(free, b)
	}
	a.block = block
	a.buffers = buffers
	a.free = free
	a.committed = true
	a.idle = make(chan struct{})
	a.log.Debugf("committed %d buffers of %d bytes", a.props.Count, a.props.Size)
	return nil
}

// Decommit releases the storage. If buffers are still held, the storage
// is dropped when the last of them is released. Blocked acquirers return
// ErrAborted.
func (a *Allocator) Decommit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decommit()
	return nil
}

// DecommitWait decommits and blocks until the storage is dropped or the
// context is done.
func (a *Allocator) DecommitWait(ctx context.Context) error {
	a.mu.Lock()
	a.decommit()
	idle := a.idle
	committed := a.committed
	a.mu.Unlock()
	if !committed {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decommit must be called under lock.
func (a *Allocator) decommit() {
	if !a.committed || a.decommitting {
		return
	}
	a.decommitting = true
	a.broadcast()
	if len(a.free) == len(a.buffers) {
		a.drop()
		return
	}
	a.log.Debugf("decommit deferred, %d buffers in use", len(a.buffers)-len(a.free))
}

// drop frees the storage, must be called under lock.
func (a *Allocator) drop() {
	for _, b := range a.buffers {
		b.retired = true
	}
	a.block = nil
	a.buffers = nil
	a.free = nil
	a.committed = false
	a.decommitting = false
	close(a.idle)
	a.log.Debug("decommitted")
}

// Committed reports whether the storage exists. A decommit may be pending.
func (a *Allocator) Committed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed
}

// Acquire returns a free buffer with a single reference. If none is free
// and noWait is set, ErrTimeout is returned immediately. Otherwise the
// call blocks until a buffer is released, the allocator is decommitted or
// the context is done.
func (a *Allocator) Acquire(ctx context.Context, noWait bool) (*Buffer, error) {
	a.mu.Lock()
	waited := false
	for {
		if !a.committed || a.decommitting {
			a.mu.Unlock()
			if waited {
				return nil, graph.ErrAborted
			}
			return nil, graph.ErrNotCommitted
		}
		if n := len(a.free); n > 0 {
			b := a.free[n-1]
			a.free = a.free[:n-1]
			b.refs = 1
			b.reset()
			a.mu.Unlock()
			a.measure(int64(len(b.data)))
			return b, nil
		}
		if noWait {
			a.mu.Unlock()
			return nil, graph.ErrTimeout
		}
		signal := a.signal
		a.mu.Unlock()
		select {
		case <-signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		waited = true
		a.mu.Lock()
	}
}

// Release drops a reference to the buffer. When no references are left,
// the buffer becomes free and blocked acquirers are woken.
func (a *Allocator) Release(b *Buffer) error {
	if b == nil {
		return errors.Wrap(graph.ErrInvalidArgument, "nil buffer")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if b.pool != a || b.retired {
		return errors.Wrap(graph.ErrInvalidArgument, "buffer doesn't belong to allocator")
	}
	if b.refs <= 0 {
		return errors.Wrapf(graph.ErrUnexpected, "release of free buffer %d", b.index)
	}
	b.refs--
	if b.refs > 0 {
		return nil
	}
	a.free = append(a.free, b)
	a.broadcast()
	if a.decommitting && len(a.free) == len(a.buffers) {
		a.drop()
	}
	return nil
}

// Stats returns the number of free and used buffers.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Free:  len(a.free),
		InUse: len(a.buffers) - len(a.free),
	}
}

// Attach registers one more holder of the allocator.
func (a *Allocator) Attach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.holders++
}

// Detach unregisters a holder. The last holder decommits the allocator.
func (a *Allocator) Detach() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holders <= 0 {
		return errors.Wrap(graph.ErrUnexpected, "allocator has no holders")
	}
	a.holders--
	if a.holders == 0 {
		a.decommit()
	}
	return nil
}

// broadcast wakes every waiter, must be called under lock.
func (a *Allocator) broadcast() {
	close(a.signal)
	a.signal = make(chan struct{})
}

// alignOffset returns the offset of the first aligned address in block.
func alignOffset(block []byte, align int) int {
	if len(block) == 0 {
		return 0
	}
	addr := uintptr(unsafe.Pointer(&block[0]))
	return int((uintptr(align) - addr%uintptr(align)) % uintptr(align))
}
