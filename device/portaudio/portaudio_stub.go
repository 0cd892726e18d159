//go:build !portaudio

package portaudio

import (
	"github.com/pkg/errors"

	"pipelined.dev/graph"
	"pipelined.dev/graph/render"
)

// Device is unavailable without the portaudio build tag.
type Device struct {
	FramesPerBuffer int
}

// Open always fails.
func (d *Device) Open(graph.WaveFormat, func(id int)) (render.Stream, error) {
	return nil, errors.Wrap(graph.ErrDevice, "built without portaudio tag")
}
