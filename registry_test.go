package graph_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"pipelined.dev/graph"
)

func TestRegistryValidate(t *testing.T) {
	reg := graph.DefaultRegistry()
	float := graph.NewPCM(48000, 2, 32)
	float.Tag = graph.WaveFormatIEEEFloat
	unknown := graph.NewPCM(48000, 2, 16)
	unknown.Tag = 0x1234
	tests := []struct {
		mt  *graph.MediaType
		err error
	}{
		{mt: graph.NewPCM(44100, 2, 16).MediaType()},
		{mt: float.MediaType()},
		{mt: &graph.MediaType{Major: graph.MajorStream, Sub: graph.SubWAVE}},
		{mt: graph.NewPCM(44100, 2, 12).MediaType(), err: graph.ErrFormatNotSupported},
		{mt: unknown.MediaType(), err: graph.ErrFormatNotSupported},
		{mt: &graph.MediaType{FormatKind: graph.FormatWaveFormatEx, Format: []byte{1}}, err: graph.ErrFormatNotSupported},
		{mt: nil, err: graph.ErrInvalidArgument},
	}
	for _, test := range tests {
		err := reg.Validate(test.mt)
		if test.err == nil {
			assert.NoError(t, err, "mt: %v", test.mt)
		} else {
			assert.True(t, errors.Is(err, test.err), "mt: %v got: %v", test.mt, err)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := graph.DefaultRegistry()
	c, ok := reg.Lookup(graph.WaveFormatPCM)
	assert.True(t, ok)
	assert.Equal(t, "PCM", c.Name)
	_, ok = reg.Lookup(0x4242)
	assert.False(t, ok)

	codecs := reg.Codecs()
	assert.Equal(t, 4, len(codecs))
	for i := 1; i < len(codecs); i++ {
		assert.True(t, codecs[i-1].Tag < codecs[i].Tag)
	}

	var empty *graph.Registry
	assert.NoError(t, empty.Validate(graph.NewPCM(1, 1, 12).MediaType()))
	_, ok = empty.Lookup(graph.WaveFormatPCM)
	assert.False(t, ok)
}

func TestEventQueue(t *testing.T) {
	q := graph.NewEventQueue(2)
	assert.NoError(t, q.Notify(graph.EventPaused, 0, 0))
	assert.NoError(t, q.Notify(graph.EventComplete, 1, 2))
	err := q.Notify(graph.EventComplete, 0, 0)
	assert.True(t, errors.Is(err, graph.ErrTimeout))

	e, err := q.WaitForCompletion(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, graph.Event{Code: graph.EventComplete, Param1: 1, Param2: 2}, e)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = q.WaitForCompletion(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestFault(t *testing.T) {
	cause := errors.New("disk on fire")
	err := graph.IOFault("read", cause)
	assert.True(t, errors.Is(err, graph.ErrIO))
	assert.False(t, errors.Is(err, graph.ErrDevice))
	assert.Equal(t, cause, errors.Cause(errors.Unwrap(err)))
	assert.Nil(t, graph.DeviceFault("write", nil))
	assert.True(t, graph.IsAbort(errors.Wrap(graph.ErrAborted, "flush")))
	assert.False(t, graph.IsAbort(cause))
}
