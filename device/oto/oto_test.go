package oto_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"pipelined.dev/graph"
	"pipelined.dev/graph/device/oto"
)

func TestSupports(t *testing.T) {
	float := graph.NewPCM(44100, 2, 32)
	float.Tag = graph.WaveFormatIEEEFloat
	var tests = []struct {
		format graph.WaveFormat
		err    error
	}{
		{format: graph.NewPCM(44100, 2, 16)},
		{format: graph.NewPCM(8000, 1, 8)},
		{format: graph.NewPCM(44100, 6, 16), err: graph.ErrFormatNotSupported},
		{format: graph.NewPCM(44100, 2, 24), err: graph.ErrFormatNotSupported},
		{format: float, err: graph.ErrFormatNotSupported},
	}
	d := &oto.Device{}
	for _, c := range tests {
		err := d.Supports(c.format)
		if c.err != nil {
			assert.True(t, errors.Is(err, c.err), "%+v", c.format)
		} else {
			assert.NoError(t, err, "%+v", c.format)
		}
	}
}
