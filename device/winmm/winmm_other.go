//go:build !windows

package winmm

import (
	"github.com/pkg/errors"

	"pipelined.dev/graph"
	"pipelined.dev/graph/render"
)

// Device is only available on windows.
type Device struct{}

// Open always fails.
func (d *Device) Open(graph.WaveFormat, func(id int)) (render.Stream, error) {
	return nil, errors.Wrap(graph.ErrDevice, "waveOut is only available on windows")
}
