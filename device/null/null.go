// Package null provides a device that discards audio. It plays either in
// real time, pacing buffers by their duration, or instantly.
package null

import (
	"sync"
	"time"

	"pipelined.dev/graph"
	"pipelined.dev/graph/internal/playback"
	"pipelined.dev/graph/render"
)

// period is the pacing granularity of the real time device.
const period = 10 * time.Millisecond

// Device is a null output.
type Device struct {
	// Realtime paces buffers by their duration.
	Realtime bool
}

var _ render.Device = (*Device)(nil)

// Open returns a stream for the format.
func (d *Device) Open(format graph.WaveFormat, done func(id int)) (render.Stream, error) {
	s := &Stream{format: format}
	write := func([]byte) error { return nil }
	if d.Realtime {
		write = s.sleep
	}
	s.Player = playback.New(write, chunk(format), done)
	return s, nil
}

// chunk returns the number of bytes played per period.
func chunk(w graph.WaveFormat) int {
	align := int(max(w.BlockAlign, 1))
	n := int(w.AvgBytesPerSec) / int(time.Second/period) / align * align
	return max(n, align)
}

// Stream is an open null output.
type Stream struct {
	*playback.Player
	format graph.WaveFormat

	mu          sync.Mutex
	left, right float64
}

func (s *Stream) sleep(p []byte) error {
	time.Sleep(s.format.DurationOf(int64(len(p))))
	return nil
}

// SetVolume remembers the gains.
func (s *Stream) SetVolume(left, right float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left, s.right = left, right
	return nil
}

// Volume returns the last gains.
func (s *Stream) Volume() (left, right float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left, s.right
}
