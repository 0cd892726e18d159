package null_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/graph"
	"pipelined.dev/graph/device/null"
	"pipelined.dev/graph/filter"
	"pipelined.dev/graph/mock"
	"pipelined.dev/graph/pool"
	"pipelined.dev/graph/render"
	"pipelined.dev/graph/test"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var format = graph.NewPCM(8000, 1, 8)

func sink(t *testing.T, d render.Device) (*render.AudioSink, *mock.EventSink) {
	t.Helper()
	s, err := render.New("sink", d)
	require.NoError(t, err)
	events := &mock.EventSink{}
	s.SetEventSink(events)
	src := filter.New("source", uuid.Nil, filter.Hooks{})
	out := src.AddPin("out", filter.Output, filter.PinHooks{})
	require.NoError(t, filter.Connect(graph.DefaultRegistry(), out, s.Input(), format.MediaType()))
	return s, events
}

func buffer(t *testing.T, data []byte) *pool.Buffer {
	t.Helper()
	a := pool.New()
	_, err := a.SetProperties(pool.Properties{Count: 1, Size: len(data), Align: 1})
	require.NoError(t, err)
	require.NoError(t, a.Commit())
	b, err := a.Acquire(context.Background(), true)
	require.NoError(t, err)
	copy(b.Bytes(), data)
	require.NoError(t, b.SetLen(len(data)))
	return b
}

func TestInstant(t *testing.T) {
	s, events := sink(t, &null.Device{})
	data := test.Pattern(5*8000 + 123)
	b := buffer(t, data)
	defer b.Release()

	require.NoError(t, s.Run(0))
	require.NoError(t, s.Input().Receive(b))
	require.NoError(t, s.Input().EndOfStream())
	assert.Equal(t, int64(len(data)), s.Played())
	assert.Equal(t, []graph.Event{{Code: graph.EventComplete}}, events.Events())
	require.NoError(t, s.Stop())
}

func TestRealtime(t *testing.T) {
	s, _ := sink(t, &null.Device{Realtime: true})
	// 50ms of audio
	b := buffer(t, test.Pattern(400))
	defer b.Release()

	require.NoError(t, s.Run(0))
	start := time.Now()
	require.NoError(t, s.Input().Receive(b))
	require.NoError(t, s.Input().EndOfStream())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, s.Now())
	require.NoError(t, s.Stop())
}

func TestResetCancels(t *testing.T) {
	s, _ := sink(t, &null.Device{Realtime: true})
	// two seconds, the second hardware buffer stays queued
	b := buffer(t, test.Pattern(2*8000))
	defer b.Release()

	require.NoError(t, s.Run(0))
	require.NoError(t, s.Input().Receive(b))
	require.NoError(t, s.Input().BeginFlush())
	assert.Less(t, s.Played(), int64(2*8000))
	require.NoError(t, s.Input().EndFlush())
	require.NoError(t, s.Stop())
}

func TestPausedStream(t *testing.T) {
	var ids []int
	stream, err := (&null.Device{}).Open(format, func(id int) { ids = append(ids, id) })
	require.NoError(t, err)
	require.NoError(t, stream.Write(0, make([]byte, 10)))
	require.NoError(t, stream.Reset())
	assert.Equal(t, []int{0}, ids)
	require.NoError(t, stream.SetVolume(0.5, 0.25))
	l, r := stream.(*null.Stream).Volume()
	assert.Equal(t, 0.5, l)
	assert.Equal(t, 0.25, r)
	require.NoError(t, stream.Close())
}
