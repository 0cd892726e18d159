package filter_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/graph"
	"pipelined.dev/graph/filter"
	"pipelined.dev/graph/pool"
)

var pcm = graph.NewPCM(44100, 2, 16).MediaType()

func audioOnly(_ *graph.Registry, mt *graph.MediaType) error {
	if mt.Major != graph.MajorAudio {
		return errors.Wrapf(graph.ErrFormatNotSupported, "major %v", mt.Major)
	}
	return nil
}

// source is an output pin exposing a capability that must be queried
// before connection completes.
type source struct {
	*filter.Filter
	out     *filter.Pin
	queried bool
	broken  int
}

func newSource() *source {
	s := &source{}
	s.Filter = filter.New("source", uuid.Nil, filter.Hooks{})
	s.out = s.AddPin("out", filter.Output, filter.PinHooks{
		MediaTypes: func() []*graph.MediaType {
			return []*graph.MediaType{{Major: graph.MajorStream}, pcm}
		},
		PreConnect: func(*filter.Pin) error {
			s.queried = false
			return nil
		},
		PostConnect: func(*filter.Pin) error {
			if !s.queried {
				return graph.ErrNoCapability
			}
			return nil
		},
		BreakConnect: func() {
			s.broken++
		},
		Query: func(c filter.Capability) (interface{}, bool) {
			if c != filter.CapAsyncReader {
				return nil, false
			}
			s.queried = true
			return s, true
		},
		DecideAllocator: func(*filter.Pin, *graph.MediaType) (pool.Properties, error) {
			return pool.Properties{Count: 2, Size: 100, Align: 8}, nil
		},
	})
	return s
}

// sink is an input pin accepting audio only.
type sink struct {
	*filter.Filter
	in    *filter.Pin
	query bool
}

func newSink(query bool) *sink {
	s := &sink{query: query}
	s.Filter = filter.New("sink", uuid.Nil, filter.Hooks{})
	s.in = s.AddPin("in", filter.Input, filter.PinHooks{
		CheckMediaType: audioOnly,
		PostConnect: func(peer *filter.Pin) error {
			if !s.query {
				return nil
			}
			_, err := filter.Query[*source](peer, filter.CapAsyncReader)
			return err
		},
	})
	return s
}

func TestConnect(t *testing.T) {
	src := newSource()
	snk := newSink(true)
	reg := graph.DefaultRegistry()

	require.NoError(t, filter.Connect(reg, src.out, snk.in, nil))
	assert.Equal(t, snk.in, src.out.Peer())
	assert.Equal(t, src.out, snk.in.Peer())

	// first preferred type is rejected by sink, second wins
	mt, err := snk.in.MediaType()
	require.NoError(t, err)
	assert.True(t, mt.Equal(pcm))
	mt.Free()

	outAlloc, err := src.out.Allocator()
	require.NoError(t, err)
	inAlloc, err := snk.in.Allocator()
	require.NoError(t, err)
	assert.Same(t, outAlloc, inAlloc)
	props, err := outAlloc.Properties()
	require.NoError(t, err)
	assert.Equal(t, 2, props.Count)
	assert.Equal(t, 104, props.Size)

	// renegotiation is rejected
	err = filter.Connect(reg, src.out, snk.in, pcm)
	assert.True(t, errors.Is(err, graph.ErrAlreadyConnected))

	require.NoError(t, filter.Disconnect(snk.in))
	assert.False(t, src.out.Connected())
	assert.False(t, snk.in.Connected())
	assert.Equal(t, 1, src.broken)
	_, err = snk.in.MediaType()
	assert.True(t, errors.Is(err, graph.ErrNotConnected))
	assert.True(t, errors.Is(filter.Disconnect(snk.in), graph.ErrNotConnected))
}

func TestConnectCapabilityNotQueried(t *testing.T) {
	src := newSource()
	snk := newSink(false)

	err := filter.Connect(nil, src.out, snk.in, pcm)
	assert.True(t, errors.Is(err, graph.ErrNoCapability))
	assert.False(t, src.out.Connected())
	assert.False(t, snk.in.Connected())
	assert.Equal(t, 1, src.broken)

	// stale flag from the previous attempt must not leak
	snk.query = true
	require.NoError(t, filter.Connect(nil, src.out, snk.in, pcm))
	require.NoError(t, filter.Disconnect(src.out))
}

func TestConnectRejected(t *testing.T) {
	var tests = []struct {
		description string
		mt          *graph.MediaType
		err         error
	}{
		{
			description: "wrong major",
			mt:          &graph.MediaType{Major: graph.MajorStream},
			err:         graph.ErrFormatNotSupported,
		},
		{
			description: "unknown codec",
			mt:          graph.WaveFormat{Tag: 0x1234, Channels: 1, SampleRate: 8000, AvgBytesPerSec: 8000, BlockAlign: 1, BitsPerSample: 8}.MediaType(),
			err:         graph.ErrFormatNotSupported,
		},
	}
	for _, test := range tests {
		src := newSource()
		snk := newSink(true)
		snk.in = snk.AddPin("registry", filter.Input, filter.PinHooks{
			CheckMediaType: func(reg *graph.Registry, mt *graph.MediaType) error {
				if err := audioOnly(reg, mt); err != nil {
					return err
				}
				return reg.Validate(mt)
			},
		})
		err := filter.Connect(graph.DefaultRegistry(), src.out, snk.in, test.mt)
		assert.True(t, errors.Is(err, test.err), "%s: %v", test.description, err)
		assert.False(t, src.out.Connected(), test.description)
	}
}

func TestConnectWrongState(t *testing.T) {
	src := newSource()
	snk := newSink(true)
	require.NoError(t, snk.Pause())

	err := filter.Connect(nil, src.out, snk.in, pcm)
	assert.True(t, errors.Is(err, graph.ErrWrongState))
	require.NoError(t, snk.Stop())

	err = filter.Connect(nil, snk.in, src.out, pcm)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument))

	require.NoError(t, filter.Connect(nil, src.out, snk.in, pcm))
	require.NoError(t, src.Pause())
	assert.True(t, errors.Is(filter.Disconnect(snk.in), graph.ErrWrongState))
	require.NoError(t, src.Stop())
	require.NoError(t, filter.Disconnect(snk.in))
}

func TestAllocatorActivation(t *testing.T) {
	src := newSource()
	snk := newSink(true)
	require.NoError(t, filter.Connect(nil, src.out, snk.in, pcm))
	alloc, err := snk.in.Allocator()
	require.NoError(t, err)
	assert.False(t, alloc.Committed())

	require.NoError(t, src.Pause())
	assert.True(t, alloc.Committed())

	// input pins don't commit
	require.NoError(t, snk.Pause())
	require.NoError(t, src.Stop())
	assert.False(t, alloc.Committed())
	require.NoError(t, snk.Stop())
	require.NoError(t, filter.Disconnect(src.out))
}

func TestDeliver(t *testing.T) {
	var (
		received []*pool.Buffer
		eos      int
		flushes  []string
	)
	src := newSource()
	snk := newSink(true)
	snk.in = snk.AddPin("stream", filter.Input, filter.PinHooks{
		Receive: func(b *pool.Buffer) error {
			received = append(received, b)
			return nil
		},
		EndOfStream: func() error {
			eos++
			return nil
		},
		BeginFlush: func() error {
			flushes = append(flushes, "begin")
			return nil
		},
		EndFlush: func() error {
			flushes = append(flushes, "end")
			return nil
		},
		PostConnect: func(peer *filter.Pin) error {
			_, err := peer.Query(filter.CapAsyncReader)
			return err
		},
	})

	assert.True(t, errors.Is(src.out.Deliver(nil), graph.ErrNotConnected))
	require.NoError(t, filter.Connect(nil, src.out, snk.in, pcm))
	require.NoError(t, src.Pause())
	alloc, err := src.out.Allocator()
	require.NoError(t, err)
	b, err := alloc.Acquire(context.Background(), true)
	require.NoError(t, err)

	assert.NoError(t, src.out.Deliver(b))
	assert.NoError(t, src.out.DeliverEndOfStream())
	assert.NoError(t, src.out.DeliverBeginFlush())
	assert.NoError(t, src.out.DeliverEndFlush())
	assert.Equal(t, []*pool.Buffer{b}, received)
	assert.Equal(t, 1, eos)
	assert.Equal(t, []string{"begin", "end"}, flushes)

	assert.NoError(t, b.Release())
	require.NoError(t, src.Stop())
	require.NoError(t, filter.Disconnect(src.out))
}

func TestQuery(t *testing.T) {
	src := newSource()
	_, err := src.out.Query(filter.CapClock)
	assert.True(t, errors.Is(err, graph.ErrNoCapability))

	_, err = filter.Query[graph.Clock](src.out, filter.CapAsyncReader)
	assert.True(t, errors.Is(err, graph.ErrNoCapability))

	s, err := filter.Query[*source](src.out, filter.CapAsyncReader)
	assert.NoError(t, err)
	assert.Same(t, src, s)
}
