package reader_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/graph"
	"pipelined.dev/graph/filter"
	"pipelined.dev/graph/mock"
	"pipelined.dev/graph/pool"
	"pipelined.dev/graph/reader"
	"pipelined.dev/graph/store"
	"pipelined.dev/graph/test"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// consumer is a downstream filter that takes the reading interface.
type consumer struct {
	*filter.Filter
	in     *filter.Pin
	reader reader.Interface
	skip   bool
}

func newConsumer() *consumer {
	c := &consumer{}
	c.Filter = filter.New("consumer", uuid.Nil, filter.Hooks{})
	c.in = c.AddPin("in", filter.Input, filter.PinHooks{
		PostConnect: func(peer *filter.Pin) error {
			if c.skip {
				return nil
			}
			r, err := filter.Query[reader.Interface](peer, filter.CapAsyncReader)
			c.reader = r
			return err
		},
	})
	return c
}

// setup connects a reader over s to a consumer and commits the allocator.
func setup(t *testing.T, s store.Store, props pool.Properties) (*reader.AsyncReader, *consumer, *pool.Allocator) {
	t.Helper()
	r, err := reader.New("reader", s, reader.WithProperties(props))
	require.NoError(t, err)
	c := newConsumer()
	require.NoError(t, filter.Connect(nil, r.Output(), c.in, nil))
	require.NoError(t, r.Pause())
	alloc, err := c.in.Allocator()
	require.NoError(t, err)
	return r, c, alloc
}

func teardown(t *testing.T, r *reader.AsyncReader, c *consumer) {
	t.Helper()
	assert.NoError(t, r.Stop())
	assert.NoError(t, filter.Disconnect(c.in))
	assert.NoError(t, r.Close())
}

func request(t *testing.T, r reader.Interface, alloc *pool.Allocator, start, end int64, ctx interface{}) *pool.Buffer {
	t.Helper()
	b, err := alloc.Acquire(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, b.SetTime(reader.TimeFromBytes(start), reader.TimeFromBytes(end)))
	require.NoError(t, r.Request(b, ctx))
	return b
}

func TestRequestOrder(t *testing.T) {
	data := test.Pattern(test.StoreSize)
	r, c, alloc := setup(t, store.NewMemory(data), pool.Properties{Count: 3, Size: 4096})

	ranges := []struct {
		start, end int64
		expected   int
		status     error
	}{
		{start: 0, end: 4096, expected: 4096},
		{start: 4096, end: 8192, expected: 4096},
		{start: 8000, end: 10000, expected: 2000},
	}
	for i, rng := range ranges {
		request(t, c.reader, alloc, rng.start, rng.end, i)
	}
	for i, rng := range ranges {
		b, ctx, err := c.reader.WaitForNext(0)
		require.NoError(t, err)
		assert.Equal(t, i, ctx)
		assert.Equal(t, rng.expected, b.Len())
		assert.Equal(t, data[rng.start:rng.start+int64(rng.expected)], b.Data())
		start, end, ok := b.Time()
		assert.True(t, ok)
		assert.Equal(t, reader.TimeFromBytes(rng.start), start)
		assert.Equal(t, reader.TimeFromBytes(rng.start+int64(rng.expected)), end)
		assert.NoError(t, b.Release())
	}
	_, _, err := c.reader.WaitForNext(0)
	assert.True(t, errors.Is(err, graph.ErrTimeout))
	teardown(t, r, c)
}

func TestRequestClamped(t *testing.T) {
	data := test.Pattern(test.StoreSize)
	r, c, alloc := setup(t, store.NewMemory(data), pool.Properties{Count: 2, Size: 4096})

	request(t, c.reader, alloc, 9000, 13096, "tail")
	request(t, c.reader, alloc, 20000, 20100, "past")

	b, ctx, err := c.reader.WaitForNext(0)
	assert.True(t, errors.Is(err, graph.ErrShortRead))
	assert.Equal(t, "tail", ctx)
	assert.Equal(t, 1000, b.Len())
	assert.Equal(t, data[9000:], b.Data())
	_, end, _ := b.Time()
	assert.Equal(t, reader.TimeFromBytes(10000), end)
	assert.NoError(t, b.Release())

	b, ctx, err = c.reader.WaitForNext(0)
	assert.True(t, errors.Is(err, graph.ErrShortRead))
	assert.Equal(t, "past", ctx)
	assert.Equal(t, 0, b.Len())
	assert.NoError(t, b.Release())
	teardown(t, r, c)
}

func TestRequestInvalid(t *testing.T) {
	r, c, alloc := setup(t, store.NewMemory(test.Pattern(100)), pool.Properties{Count: 1, Size: 64})
	assert.True(t, errors.Is(c.reader.Request(nil, nil), graph.ErrInvalidArgument))

	b, err := alloc.Acquire(context.Background(), true)
	require.NoError(t, err)
	// no time
	assert.True(t, errors.Is(c.reader.Request(b, nil), graph.ErrInvalidArgument))
	// range larger than buffer
	require.NoError(t, b.SetTime(0, reader.TimeFromBytes(65)))
	assert.True(t, errors.Is(c.reader.Request(b, nil), graph.ErrInvalidArgument))
	assert.NoError(t, b.Release())
	teardown(t, r, c)
}

func TestRequestStoreFailure(t *testing.T) {
	s := &mock.Store{Data: test.Pattern(100)}
	r, c, alloc := setup(t, s, pool.Properties{Count: 1, Size: 64})
	s.ErrorOnRead = errors.New("disk on fire")

	b, err := alloc.Acquire(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, b.SetTime(0, reader.TimeFromBytes(64)))
	err = c.reader.Request(b, nil)
	assert.True(t, errors.Is(err, graph.ErrIO))

	// nothing was queued
	_, _, err = c.reader.WaitForNext(0)
	assert.True(t, errors.Is(err, graph.ErrTimeout))
	assert.NoError(t, b.Release())

	s.ErrorOnLength = errors.New("stat failed")
	_, _, err = c.reader.Length()
	assert.True(t, errors.Is(err, graph.ErrIO))
	teardown(t, r, c)
	assert.True(t, s.Closed())
}

func TestFlush(t *testing.T) {
	r, c, alloc := setup(t, store.NewMemory(test.Pattern(test.StoreSize)), pool.Properties{Count: 2, Size: 1000})
	request(t, c.reader, alloc, 0, 1000, nil)
	request(t, c.reader, alloc, 1000, 2000, nil)
	assert.Equal(t, 0, alloc.Stats().Free)

	require.NoError(t, c.reader.BeginFlush())
	// discarded replies return their buffers
	assert.Equal(t, 2, alloc.Stats().Free)
	_, _, err := c.reader.WaitForNext(0)
	assert.True(t, errors.Is(err, graph.ErrTimeout))

	b, err := alloc.Acquire(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, b.SetTime(0, reader.TimeFromBytes(10)))
	assert.True(t, graph.IsAbort(c.reader.Request(b, nil)))

	require.NoError(t, c.reader.EndFlush())
	require.NoError(t, c.reader.Request(b, nil))
	got, _, err := c.reader.WaitForNext(0)
	assert.NoError(t, err)
	assert.Same(t, b, got)
	assert.NoError(t, got.Release())
	teardown(t, r, c)
}

func TestDisconnectDiscardsReplies(t *testing.T) {
	r, c, alloc := setup(t, store.NewMemory(test.Pattern(test.StoreSize)), pool.Properties{Count: 2, Size: 1000})
	request(t, c.reader, alloc, 0, 1000, nil)
	require.NoError(t, r.Stop())
	// storage is held by the queued reply
	assert.True(t, alloc.Committed())
	require.NoError(t, filter.Disconnect(c.in))
	assert.False(t, alloc.Committed())
	assert.NoError(t, r.Close())
}

func TestSyncRead(t *testing.T) {
	data := test.Pattern(test.StoreSize)
	r, c, alloc := setup(t, store.NewMemory(data), pool.Properties{Count: 1, Size: 4096})

	p := make([]byte, 100)
	n, err := c.reader.SyncRead(50, p)
	assert.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[50:150], p)

	n, err = c.reader.SyncRead(9950, p)
	assert.True(t, errors.Is(err, graph.ErrShortRead))
	assert.Equal(t, 50, n)

	_, err = c.reader.SyncRead(-1, p)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument))

	b, err := alloc.Acquire(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, b.SetTime(reader.TimeFromBytes(8000), reader.TimeFromBytes(12000)))
	err = c.reader.SyncReadAligned(b)
	assert.True(t, errors.Is(err, graph.ErrShortRead))
	assert.Equal(t, data[8000:], b.Data())

	require.NoError(t, b.SetTime(0, reader.TimeFromBytes(4096)))
	assert.NoError(t, c.reader.SyncReadAligned(b))
	assert.Equal(t, 4096, b.Len())
	assert.NoError(t, b.Release())

	// sync reads don't touch the queue
	_, _, err = c.reader.WaitForNext(0)
	assert.True(t, errors.Is(err, graph.ErrTimeout))

	total, available, err := c.reader.Length()
	assert.NoError(t, err)
	assert.Equal(t, int64(test.StoreSize), total)
	assert.Equal(t, int64(test.StoreSize), available)
	teardown(t, r, c)
}

func TestRequestAllocator(t *testing.T) {
	r, err := reader.New("reader", store.NewMemory(nil))
	require.NoError(t, err)

	a, props, err := r.RequestAllocator(nil, pool.Properties{Size: 100})
	assert.NoError(t, err)
	assert.NotNil(t, a)
	assert.Equal(t, pool.Properties{Count: 1, Size: 100, Align: 1}, props)

	preferred := pool.New()
	a, _, err = r.RequestAllocator(preferred, pool.Properties{Count: 2, Size: 10, Align: 4})
	assert.NoError(t, err)
	assert.Same(t, preferred, a)

	_, _, err = r.RequestAllocator(nil, pool.Properties{})
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument))
	assert.NoError(t, r.Close())
}

func TestCapabilityRequired(t *testing.T) {
	r, err := reader.New("reader", store.NewMemory(test.Pattern(10)))
	require.NoError(t, err)
	c := newConsumer()
	c.skip = true
	err = filter.Connect(nil, r.Output(), c.in, nil)
	assert.True(t, errors.Is(err, graph.ErrNoCapability))
	assert.False(t, r.Output().Connected())

	c.skip = false
	require.NoError(t, filter.Connect(nil, r.Output(), c.in, nil))
	assert.NotNil(t, c.reader)
	assert.NoError(t, filter.Disconnect(c.in))
	assert.NoError(t, r.Close())
}

func TestMediaTypes(t *testing.T) {
	wav, err := store.OpenWAV(test.WAV(t, 10))
	require.NoError(t, err)
	r, err := reader.New("wav", wav)
	require.NoError(t, err)
	media := r.Output().MediaTypes()
	require.Len(t, media, 2)
	assert.True(t, media[0].Equal(test.Format.MediaType()))
	assert.Equal(t, graph.MajorStream, media[1].Major)
	// data section has no riff header
	assert.Equal(t, uuid.Nil, media[1].Sub)
	assert.NoError(t, r.Close())

	raw, err := store.Open(test.WAV(t, 10))
	require.NoError(t, err)
	r, err = reader.New("raw", raw)
	require.NoError(t, err)
	media = r.Output().MediaTypes()
	require.Len(t, media, 1)
	assert.Equal(t, graph.SubWAVE, media[0].Sub)
	assert.NoError(t, r.Close())
}

func TestCheckMediaType(t *testing.T) {
	pcm := graph.NewPCM(8000, 1, 8)
	mismatched := pcm.MediaType()
	mismatched.Sub = graph.SubIEEEFloat
	var tests = []struct {
		description string
		mt          *graph.MediaType
		err         error
	}{
		{
			description: "stream",
			mt:          &graph.MediaType{Major: graph.MajorStream, Sub: graph.SubWAVE},
		},
		{
			description: "pcm",
			mt:          pcm.MediaType(),
		},
		{
			description: "video",
			mt:          &graph.MediaType{Major: uuid.New()},
			err:         graph.ErrFormatNotSupported,
		},
		{
			description: "tag mismatch",
			mt:          mismatched,
			err:         graph.ErrFormatNotSupported,
		},
		{
			description: "short payload",
			mt:          &graph.MediaType{Major: graph.MajorAudio, FormatKind: graph.FormatWaveFormatEx, Format: make([]byte, 8)},
			err:         graph.ErrFormatNotSupported,
		},
	}
	r, err := reader.New("reader", store.NewMemory(nil))
	require.NoError(t, err)
	for _, c := range tests {
		err := r.Output().CheckMediaType(graph.DefaultRegistry(), c.mt)
		if c.err != nil {
			assert.True(t, errors.Is(err, c.err), "%s: %v", c.description, err)
		} else {
			assert.NoError(t, err, c.description)
		}
	}
	assert.NoError(t, r.Close())
}

func TestSniff(t *testing.T) {
	var tests = []struct {
		head     []byte
		expected uuid.UUID
	}{
		{head: []byte("RIFF\x00\x00\x00\x00WAVEfmt "), expected: graph.SubWAVE},
		{head: []byte("RIFF\x00\x00\x00\x00AVI "), expected: uuid.Nil},
		{head: []byte("ID3\x04"), expected: graph.SubMPEG1Audio},
		{head: []byte{0xff, 0xfb, 0x90, 0x00}, expected: graph.SubMPEG1Audio},
		{head: []byte{0xff, 0x00}, expected: uuid.Nil},
		{head: nil, expected: uuid.Nil},
	}
	for _, c := range tests {
		assert.Equal(t, c.expected, reader.Sniff(c.head), "%q", c.head)
	}
}
