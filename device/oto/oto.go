// Package oto provides a device which plays audio with oto. Oto allows a
// single context per process, so the format of the first opened stream
// is the only one supported afterwards.
package oto

import (
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/go-audio/audio"
	"github.com/pkg/errors"

	"pipelined.dev/graph"
	"pipelined.dev/graph/internal/pcm"
	"pipelined.dev/graph/internal/playback"
	"pipelined.dev/graph/render"
)

// period is the size of a pipe write.
const period = 10 * time.Millisecond

var (
	mu      sync.Mutex
	shared  *oto.Context
	current graph.WaveFormat
)

// Device opens oto players.
type Device struct {
	// BufferSize is the device buffer duration. Zero is the driver
	// default.
	BufferSize time.Duration
}

var (
	_ render.Device        = (*Device)(nil)
	_ render.FormatChecker = (*Device)(nil)
)

func sampleFormat(w graph.WaveFormat) (oto.Format, error) {
	if w.Tag != graph.WaveFormatPCM {
		return 0, errors.Wrapf(graph.ErrFormatNotSupported, "tag %#04x", w.Tag)
	}
	if w.Channels != 1 && w.Channels != 2 {
		return 0, errors.Wrapf(graph.ErrFormatNotSupported, "%d channels", w.Channels)
	}
	switch w.BitsPerSample {
	case 8:
		return oto.FormatUnsignedInt8, nil
	case 16:
		return oto.FormatSignedInt16LE, nil
	}
	return 0, errors.Wrapf(graph.ErrFormatNotSupported, "%d bits", w.BitsPerSample)
}

// Supports accepts 8 and 16 bits PCM in mono or stereo. Once the context
// is created, only its format is accepted.
func (d *Device) Supports(w graph.WaveFormat) error {
	if _, err := sampleFormat(w); err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	if shared != nil && !sameFormat(current, w) {
		return errors.Wrapf(graph.ErrFormatNotSupported, "context is %d Hz %d channels %d bits", current.SampleRate, current.Channels, current.BitsPerSample)
	}
	return nil
}

func sameFormat(a, b graph.WaveFormat) bool {
	return a.SampleRate == b.SampleRate && a.Channels == b.Channels && a.BitsPerSample == b.BitsPerSample
}

// acquire returns the process context, creating it on first use.
func (d *Device) acquire(w graph.WaveFormat) (*oto.Context, error) {
	if err := d.Supports(w); err != nil {
		return nil, err
	}
	f, _ := sampleFormat(w)
	mu.Lock()
	defer mu.Unlock()
	if shared != nil {
		return shared, nil
	}
	c, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(w.SampleRate),
		ChannelCount: int(w.Channels),
		Format:       f,
		BufferSize:   d.BufferSize,
	})
	if err != nil {
		return nil, err
	}
	<-ready
	shared, current = c, w
	return c, nil
}

// Open creates a player which reads from a pipe fed by the stream.
func (d *Device) Open(w graph.WaveFormat, done func(id int)) (render.Stream, error) {
	c, err := d.acquire(w)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	s := &Stream{
		reader: pr,
		writer: pw,
		pcm:    pcm.Buffer(w),
		left:   1,
		right:  1,
	}
	s.player = c.NewPlayer(pr)
	s.player.Play()

	align := int(max(w.BlockAlign, 1))
	chunk := max(int(w.AvgBytesPerSec)/int(time.Second/period)/align*align, align)
	s.Player = playback.New(s.write, chunk, done)
	return s, nil
}

// Stream is an open oto output.
type Stream struct {
	*playback.Player
	player *oto.Player
	reader *io.PipeReader
	writer *io.PipeWriter
	pcm    *audio.IntBuffer
	out    []byte

	mu          sync.Mutex
	left, right float64
}

// write feeds the player with a piece scaled by channel gains.
func (s *Stream) write(p []byte) error {
	s.mu.Lock()
	left, right := s.left, s.right
	s.mu.Unlock()
	if left != 1 || right != 1 {
		if err := pcm.Decode(s.pcm, p); err != nil {
			return err
		}
		pcm.Gain(s.pcm, left, right)
		var err error
		if s.out, err = pcm.Encode(s.out, s.pcm); err != nil {
			return err
		}
		p = s.out
	}
	if _, err := s.writer.Write(p); err != nil {
		return err
	}
	return s.player.Err()
}

// SetVolume sets gains applied to the following pieces.
func (s *Stream) SetVolume(left, right float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left, s.right = left, right
	return nil
}

// Close stops the worker and releases the player. The context is kept
// for the next stream.
func (s *Stream) Close() error {
	err := s.Player.Close()
	s.player.Pause()
	s.writer.Close()
	s.reader.Close()
	return err
}
