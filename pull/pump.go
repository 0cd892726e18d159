/*
Package pull provides Pump, the filter that drives a graph.

Pump connects to an async reader on its input and to a renderer on its
output. While running, its goroutine repeatedly acquires a buffer from the
reader allocator, requests the next byte range, waits for the reply and
delivers it downstream. The renderer holds the goroutine back when the
device is behind. When the store is exhausted, end of stream is delivered
and the goroutine exits.
*/
package pull

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"pipelined.dev/graph"
	"pipelined.dev/graph/filter"
	"pipelined.dev/graph/pool"
	"pipelined.dev/graph/reader"
)

// ClassID identifies the pump filter class.
var ClassID = uuid.MustParse("2e2f5a1c-7c1a-4d1b-9a53-0b6f1c4a2d10")

// Pump is a pull mode driving filter.
type Pump struct {
	*filter.Filter
	in  *filter.Pin
	out *filter.Pin

	mu       sync.Mutex
	source   reader.Interface
	cancel   context.CancelFunc
	errc     <-chan error
	running  chan struct{}
	position int64
	err      error
}

// New creates a pump.
func New(name string) *Pump {
	p := &Pump{}
	p.Filter = filter.New(name, ClassID, filter.Hooks{
		Start:   p.start,
		Stop:    p.pause,
		Cleanup: p.cleanup,
	})
	p.in = p.AddPin("Input", filter.Input, filter.PinHooks{
		CheckMediaType: p.checkInput,
		PostConnect:    p.postConnect,
		BreakConnect:   p.breakConnect,
	})
	p.out = p.AddPin("Output", filter.Output, filter.PinHooks{
		MediaTypes:     p.mediaTypes,
		CheckMediaType: p.checkOutput,
	})
	return p
}

// Input returns the input pin.
func (p *Pump) Input() *filter.Pin {
	return p.in
}

// Output returns the output pin.
func (p *Pump) Output() *filter.Pin {
	return p.out
}

// Position returns the number of bytes delivered since the pump was
// started.
func (p *Pump) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Err returns the error that stopped the last run.
func (p *Pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// checkInput accepts audio only, it's passed through as is.
func (p *Pump) checkInput(_ *graph.Registry, mt *graph.MediaType) error {
	if mt.Major != graph.MajorAudio {
		return errors.Wrapf(graph.ErrFormatNotSupported, "major %v", mt.Major)
	}
	return nil
}

func (p *Pump) postConnect(peer *filter.Pin) error {
	r, err := filter.Query[reader.Interface](peer, filter.CapAsyncReader)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.source = r
	p.mu.Unlock()
	return nil
}

func (p *Pump) breakConnect() {
	p.mu.Lock()
	p.source = nil
	p.mu.Unlock()
}

// mediaTypes offers the input type downstream.
func (p *Pump) mediaTypes() []*graph.MediaType {
	mt, err := p.in.MediaType()
	if err != nil {
		return nil
	}
	return []*graph.MediaType{mt}
}

// checkOutput accepts the input type only.
func (p *Pump) checkOutput(_ *graph.Registry, mt *graph.MediaType) error {
	in, err := p.in.MediaType()
	if err != nil {
		return errors.Wrap(graph.ErrFormatNotSupported, "input is not connected")
	}
	defer in.Free()
	if !in.Equal(mt) {
		return errors.Wrapf(graph.ErrFormatNotSupported, "%v differs from input %v", mt, in)
	}
	return nil
}

// start launches the streaming goroutine or resumes it.
func (p *Pump) start(time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.errc != nil {
		close(p.running)
		return nil
	}
	if p.source == nil {
		return errors.Wrap(graph.ErrNotConnected, "pump input")
	}
	alloc, err := p.in.Allocator()
	if err != nil {
		return err
	}
	total, _, err := p.source.Length()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = make(chan struct{})
	close(p.running)
	p.position = 0
	p.err = nil
	p.errc = p.run(ctx, p.source, alloc, total)
	return nil
}

// pause holds the goroutine before the next buffer.
func (p *Pump) pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.errc != nil {
		p.running = make(chan struct{})
	}
	return nil
}

// cleanup stops the goroutine. Both the reader and the downstream pin are
// flushed so that every blocking call returns.
func (p *Pump) cleanup() error {
	p.mu.Lock()
	cancel, errc, source := p.cancel, p.errc, p.source
	p.cancel, p.errc = nil, nil
	p.mu.Unlock()
	if errc == nil {
		return nil
	}

	cancel()
	if err := source.BeginFlush(); err != nil {
		p.Log().WithError(err).Warn("flush reader")
	}
	if err := p.out.DeliverBeginFlush(); err != nil {
		p.Log().WithError(err).Warn("begin flush")
	}
	for err := range errc {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	}
	if err := p.out.DeliverEndFlush(); err != nil {
		p.Log().WithError(err).Warn("end flush")
	}
	if err := source.EndFlush(); err != nil {
		p.Log().WithError(err).Warn("end flush reader")
	}
	return nil
}

// gate returns the channel closed while the pump is running.
func (p *Pump) gate() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pump) run(ctx context.Context, source reader.Interface, alloc *pool.Allocator, total int64) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		err := p.stream(ctx, source, alloc, total)
		switch {
		case err == io.EOF:
			p.Log().Debug("end of stream delivered")
		case errors.Is(err, context.Canceled), graph.IsAbort(err):
			p.Log().Debug("interrupted")
		default:
			p.Log().WithError(err).Error("streaming failed")
			p.Notify(graph.EventErrorAbort, 0, 0)
			errc <- err
		}
	}()
	return errc
}

// stream delivers buffers until the store is exhausted. It returns io.EOF
// after end of stream was delivered.
func (p *Pump) stream(ctx context.Context, source reader.Interface, alloc *pool.Allocator, total int64) error {
	var position int64
	for {
		select {
		case <-p.gate():
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if position >= total {
			if err := p.out.DeliverEndOfStream(); err != nil {
				return err
			}
			return io.EOF
		}

		n, err := p.next(ctx, source, alloc, position, total)
		if err != nil {
			return err
		}
		if n == 0 {
			// store shrank under us
			total = position
			continue
		}
		position += int64(n)
		p.mu.Lock()
		p.position = position
		p.mu.Unlock()
	}
}

// next moves one buffer from the reader downstream.
func (p *Pump) next(ctx context.Context, source reader.Interface, alloc *pool.Allocator, position, total int64) (int, error) {
	b, err := alloc.Acquire(ctx, false)
	if err != nil {
		return 0, err
	}
	size := int64(b.Size())
	if left := total - position; left < size {
		size = left
	}
	if err := b.SetTime(reader.TimeFromBytes(position), reader.TimeFromBytes(position+size)); err != nil {
		b.Release()
		return 0, err
	}
	if err := source.Request(b, nil); err != nil {
		b.Release()
		return 0, err
	}

	b, _, err = source.WaitForNext(0)
	if err != nil && !errors.Is(err, graph.ErrShortRead) {
		if b != nil {
			b.Release()
		}
		if errors.Is(err, graph.ErrTimeout) {
			// reply was discarded by flush
			return 0, graph.ErrAborted
		}
		return 0, err
	}
	defer b.Release()
	n := b.Len()
	if n == 0 {
		return 0, nil
	}
	if err := p.deliver(ctx, b); err != nil {
		return 0, err
	}
	return n, nil
}

// deliver passes the buffer downstream. A renderer paused ahead of the pump
// rejects it, then delivery is retried once the pump is resumed.
func (p *Pump) deliver(ctx context.Context, b *pool.Buffer) error {
	for {
		err := p.out.Deliver(b)
		if !errors.Is(err, graph.ErrUnexpected) {
			return err
		}
		gate := p.gate()
		select {
		case <-gate:
			return err
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
