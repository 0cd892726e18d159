//go:build portaudio

// Package portaudio provides a device which plays audio with the default
// portaudio output.
package portaudio

import (
	"sync"

	"github.com/go-audio/audio"
	"github.com/gordonklaus/portaudio"
	"github.com/pkg/errors"

	"pipelined.dev/graph"
	"pipelined.dev/graph/internal/pcm"
	"pipelined.dev/graph/internal/playback"
	"pipelined.dev/graph/render"
)

// Device opens the default portaudio output.
type Device struct {
	// FramesPerBuffer is the size of a portaudio write. Default is 512.
	FramesPerBuffer int
}

var (
	_ render.Device        = (*Device)(nil)
	_ render.FormatChecker = (*Device)(nil)
)

// Supports accepts integer PCM of 8 and 16 bits.
func (d *Device) Supports(format graph.WaveFormat) error {
	if format.Tag != graph.WaveFormatPCM {
		return errors.Wrapf(graph.ErrFormatNotSupported, "tag %#04x", format.Tag)
	}
	if format.BitsPerSample != 8 && format.BitsPerSample != 16 {
		return errors.Wrapf(graph.ErrFormatNotSupported, "%d bits", format.BitsPerSample)
	}
	return nil
}

// Open initializes portaudio and opens the default output stream. The
// stream is started right away, playback is held until Restart.
func (d *Device) Open(format graph.WaveFormat, done func(id int)) (render.Stream, error) {
	if err := d.Supports(format); err != nil {
		return nil, err
	}
	frames := d.FramesPerBuffer
	if frames <= 0 {
		frames = 512
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	s := &Stream{
		buf:   make([]float32, frames*int(format.Channels)),
		pcm:   pcm.Buffer(format),
		left:  1,
		right: 1,
	}
	var err error
	s.stream, err = portaudio.OpenDefaultStream(0, int(format.Channels), float64(format.SampleRate), frames, &s.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	if err := s.stream.Start(); err != nil {
		s.stream.Close()
		portaudio.Terminate()
		return nil, err
	}
	s.Player = playback.New(s.write, frames*int(format.BlockAlign), done)
	return s, nil
}

// Stream is an open portaudio output.
type Stream struct {
	*playback.Player
	stream *portaudio.Stream
	buf    []float32
	pcm    *audio.IntBuffer

	mu          sync.Mutex
	left, right float64
}

// write converts a piece into the portaudio buffer. A short piece is
// padded with silence.
func (s *Stream) write(p []byte) error {
	if err := pcm.Decode(s.pcm, p); err != nil {
		return err
	}
	s.mu.Lock()
	left, right := s.left, s.right
	s.mu.Unlock()
	pcm.Gain(s.pcm, left, right)

	n := copy(s.buf, s.pcm.AsFloat32Buffer().Data)
	clear(s.buf[n:])
	return s.stream.Write()
}

// SetVolume sets gains applied to the following pieces.
func (s *Stream) SetVolume(left, right float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left, s.right = left, right
	return nil
}

// Close stops the worker and terminates portaudio.
func (s *Stream) Close() error {
	if err := s.Player.Close(); err != nil {
		return err
	}
	if err := s.stream.Stop(); err != nil {
		return err
	}
	if err := s.stream.Close(); err != nil {
		return err
	}
	return portaudio.Terminate()
}
