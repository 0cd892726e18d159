package filter

import (
	"github.com/pkg/errors"

	"pipelined.dev/graph"
	"pipelined.dev/graph/pool"
)

// Connect negotiates a connection between output and input pins. If mt is
// nil, the preferred types of the output pin are tried first, then the
// ones of the input pin. The first type accepted by both pins wins. Both
// filters must be stopped and neither pin connected.
func Connect(reg *graph.Registry, out, in *Pin, mt *graph.MediaType) error {
	if out == nil || in == nil {
		return errors.Wrap(graph.ErrInvalidArgument, "nil pin")
	}
	if out.dir != Output || in.dir != Input {
		return errors.Wrapf(graph.ErrInvalidArgument, "connect %v %v to %v %v", out.dir, out, in.dir, in)
	}
	if !out.filter.idle() || !in.filter.idle() {
		return errors.Wrapf(graph.ErrWrongState, "connect %v to %v", out, in)
	}
	if out.Connected() || in.Connected() {
		return errors.Wrapf(graph.ErrAlreadyConnected, "connect %v to %v", out, in)
	}

	candidates := []*graph.MediaType{mt}
	if mt == nil {
		candidates = append(out.MediaTypes(), in.MediaTypes()...)
	}
	for _, c := range candidates {
		err := connect(reg, out, in, c)
		if err == nil {
			out.filter.log.Debugf("%v connected to %v with %v", out, in, c)
			return nil
		}
		if !errors.Is(err, graph.ErrFormatNotSupported) {
			return err
		}
		out.filter.log.WithError(err).Debugf("%v rejected %v", in, c)
	}
	return errors.Wrapf(graph.ErrFormatNotSupported, "no acceptable media type for %v to %v", out, in)
}

func connect(reg *graph.Registry, out, in *Pin, mt *graph.MediaType) (err error) {
	if mt == nil {
		return errors.Wrap(graph.ErrInvalidArgument, "nil media type")
	}
	for _, p := range []*Pin{out, in} {
		if p.hooks.PreConnect != nil {
			if err := p.hooks.PreConnect(p.peerFor(out, in)); err != nil {
				return err
			}
		}
	}
	for _, p := range []*Pin{out, in} {
		if err := p.CheckMediaType(reg, mt); err != nil {
			return errors.WithMessagef(err, "%v", p)
		}
	}

	props, err := decideAllocator(out, in, mt)
	if err != nil {
		return err
	}
	alloc := pool.New()
	if _, err := alloc.SetProperties(props); err != nil {
		return err
	}

	bind(out, in, mt, alloc)
	bind(in, out, mt, alloc)
	defer func() {
		if err != nil {
			unbind(out)
			unbind(in)
		}
	}()

	if in.hooks.PostConnect != nil {
		if err := in.hooks.PostConnect(out); err != nil {
			return errors.WithMessagef(err, "%v", in)
		}
	}
	if out.hooks.PostConnect != nil {
		if err := out.hooks.PostConnect(in); err != nil {
			return errors.WithMessagef(err, "%v", out)
		}
	}
	return nil
}

// Disconnect breaks the connection of the pin and its peer. The
// connection allocator is decommitted once all its buffers are released.
func Disconnect(p *Pin) error {
	if p == nil {
		return errors.Wrap(graph.ErrInvalidArgument, "nil pin")
	}
	peer := p.Peer()
	if peer == nil {
		return errors.Wrapf(graph.ErrNotConnected, "disconnect %v", p)
	}
	if !p.filter.idle() || !peer.filter.idle() {
		return errors.Wrapf(graph.ErrWrongState, "disconnect %v from %v", p, peer)
	}
	unbind(p)
	unbind(peer)
	p.filter.log.Debugf("%v disconnected from %v", p, peer)
	return nil
}

func decideAllocator(out, in *Pin, mt *graph.MediaType) (pool.Properties, error) {
	if out.hooks.DecideAllocator != nil {
		return out.hooks.DecideAllocator(in, mt)
	}
	if in.hooks.DecideAllocator != nil {
		return in.hooks.DecideAllocator(out, mt)
	}
	return DefaultProperties, nil
}

func (p *Pin) peerFor(out, in *Pin) *Pin {
	if p == out {
		return in
	}
	return out
}

func bind(p, peer *Pin, mt *graph.MediaType, alloc *pool.Allocator) {
	alloc.Attach()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peer = peer
	p.mt = mt.Copy()
	p.alloc = alloc
}

func unbind(p *Pin) {
	p.mu.Lock()
	alloc := p.alloc
	mt := p.mt
	p.peer, p.mt, p.alloc = nil, nil, nil
	p.mu.Unlock()

	if p.hooks.BreakConnect != nil {
		p.hooks.BreakConnect()
	}
	mt.Free()
	if alloc != nil {
		if err := alloc.Detach(); err != nil {
			p.filter.log.WithError(err).Warnf("%v detach allocator", p)
		}
	}
}
