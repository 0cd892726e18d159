package filter

import (
	"sync"

	"github.com/pkg/errors"

	"pipelined.dev/graph"
	"pipelined.dev/graph/pool"
)

// Direction of data flow through a pin.
type Direction int

// Pin directions.
const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Capability identifies an interface a pin can expose to its peer.
type Capability int

// Known capabilities.
const (
	// CapAsyncReader is the request/reply reading contract of a source.
	CapAsyncReader Capability = iota + 1
	// CapClock is the reference clock of a renderer.
	CapClock
)

// PinHooks are the pin specific parts of negotiation and streaming. All of
// them are optional.
type PinHooks struct {
	// CheckMediaType accepts or rejects a proposed media type. Rejections
	// should wrap graph.ErrFormatNotSupported.
	CheckMediaType func(reg *graph.Registry, mt *graph.MediaType) error
	// MediaTypes lists preferred media types, best first.
	MediaTypes func() []*graph.MediaType
	// PreConnect resets stale per-connection state.
	PreConnect func(peer *Pin) error
	// PostConnect finalizes the connection. Failure tears it down.
	PostConnect func(peer *Pin) error
	// BreakConnect is called when the connection is torn down.
	BreakConnect func()
	// Query returns the implementation of capability.
	Query func(c Capability) (interface{}, bool)
	// DecideAllocator returns the requested properties of the connection
	// allocator.
	DecideAllocator func(peer *Pin, mt *graph.MediaType) (pool.Properties, error)

	Receive     func(b *pool.Buffer) error
	EndOfStream func() error
	BeginFlush  func() error
	EndFlush    func() error
}

// DefaultProperties are used when neither pin decides the allocator.
var DefaultProperties = pool.Properties{
	Count: 4,
	Size:  4096,
	Align: 1,
}

// Pin is a typed connection endpoint of a filter.
type Pin struct {
	filter *Filter
	name   string
	dir    Direction
	hooks  PinHooks

	mu    sync.Mutex
	peer  *Pin
	mt    *graph.MediaType
	alloc *pool.Allocator
}

// Name returns the pin name.
func (p *Pin) Name() string {
	return p.name
}

// Direction returns the direction of the pin.
func (p *Pin) Direction() Direction {
	return p.dir
}

// Filter returns the owner of the pin.
func (p *Pin) Filter() *Filter {
	return p.filter
}

func (p *Pin) String() string {
	return p.filter.name + "." + p.name
}

// Peer returns the connected pin, nil if not connected.
func (p *Pin) Peer() *Pin {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

// Connected reports whether the pin has a peer.
func (p *Pin) Connected() bool {
	return p.Peer() != nil
}

// MediaType returns a copy of the negotiated media type. Caller must Free
// it.
func (p *Pin) MediaType() (*graph.MediaType, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peer == nil {
		return nil, graph.ErrNotConnected
	}
	return p.mt.Copy(), nil
}

// Allocator returns the allocator shared by the connection.
func (p *Pin) Allocator() (*pool.Allocator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alloc == nil {
		return nil, graph.ErrNotConnected
	}
	return p.alloc, nil
}

// MediaTypes returns preferred media types of the pin.
func (p *Pin) MediaTypes() []*graph.MediaType {
	if p.hooks.MediaTypes == nil {
		return nil
	}
	return p.hooks.MediaTypes()
}

// CheckMediaType reports whether the pin accepts the media type.
func (p *Pin) CheckMediaType(reg *graph.Registry, mt *graph.MediaType) error {
	if mt == nil {
		return errors.Wrap(graph.ErrInvalidArgument, "nil media type")
	}
	if p.hooks.CheckMediaType == nil {
		return nil
	}
	return p.hooks.CheckMediaType(reg, mt)
}

// Query asks the pin for the implementation of capability.
func (p *Pin) Query(c Capability) (interface{}, error) {
	if p.hooks.Query != nil {
		if v, ok := p.hooks.Query(c); ok {
			return v, nil
		}
	}
	return nil, errors.Wrapf(graph.ErrNoCapability, "%v capability %d", p, c)
}

// Query asks the pin for capability and asserts its implementation to T.
func Query[T any](p *Pin, c Capability) (T, error) {
	var zero T
	v, err := p.Query(c)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.Wrapf(graph.ErrNoCapability, "%v capability %d is %T", p, c, v)
	}
	return t, nil
}

// Receive passes the buffer to the input pin.
func (p *Pin) Receive(b *pool.Buffer) error {
	if p.hooks.Receive == nil {
		return errors.Wrapf(graph.ErrUnexpected, "%v doesn't receive", p)
	}
	return p.hooks.Receive(b)
}

// EndOfStream signals the input pin no more data follows.
func (p *Pin) EndOfStream() error {
	return call(p.hooks.EndOfStream)
}

// BeginFlush asks the input pin to discard data and unblock.
func (p *Pin) BeginFlush() error {
	return call(p.hooks.BeginFlush)
}

// EndFlush ends the flush.
func (p *Pin) EndFlush() error {
	return call(p.hooks.EndFlush)
}

// Deliver passes the buffer to the connected input pin.
func (p *Pin) Deliver(b *pool.Buffer) error {
	peer, err := p.connectedPeer()
	if err != nil {
		return err
	}
	return peer.Receive(b)
}

// DeliverEndOfStream signals end of stream to the connected input pin.
func (p *Pin) DeliverEndOfStream() error {
	peer, err := p.connectedPeer()
	if err != nil {
		return err
	}
	return peer.EndOfStream()
}

// DeliverBeginFlush starts flush of the connected input pin.
func (p *Pin) DeliverBeginFlush() error {
	peer, err := p.connectedPeer()
	if err != nil {
		return err
	}
	return peer.BeginFlush()
}

// DeliverEndFlush ends flush of the connected input pin.
func (p *Pin) DeliverEndFlush() error {
	peer, err := p.connectedPeer()
	if err != nil {
		return err
	}
	return peer.EndFlush()
}

func (p *Pin) connectedPeer() (*Pin, error) {
	peer := p.Peer()
	if peer == nil {
		return nil, errors.Wrapf(graph.ErrNotConnected, "%v", p)
	}
	return peer, nil
}

// active commits the allocator of a connected output pin.
func (p *Pin) active() error {
	p.mu.Lock()
	alloc := p.alloc
	p.mu.Unlock()
	if p.dir != Output || alloc == nil {
		return nil
	}
	return alloc.Commit()
}

// inactive decommits the allocator of a connected output pin.
func (p *Pin) inactive() {
	p.mu.Lock()
	alloc := p.alloc
	p.mu.Unlock()
	if p.dir != Output || alloc == nil {
		return
	}
	if err := alloc.Decommit(); err != nil {
		p.filter.log.WithError(err).Warnf("%v decommit", p)
	}
}
