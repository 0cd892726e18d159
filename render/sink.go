/*
Package render provides AudioSink, a renderer filter that plays uncompressed
audio on a Device.

The sink owns two hardware buffers of roughly one second each. Receive
copies incoming bytes into the buffer being filled and writes it to the
device once it's full. When both buffers are queued on the device, Receive
blocks until one of them is done: this is where a producer is held back
while the device is behind.
*/
package render

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"pipelined.dev/graph"
	"pipelined.dev/graph/filter"
	"pipelined.dev/graph/metric"
	"pipelined.dev/graph/pool"
)

// ClassID identifies the audio sink filter class.
var ClassID = uuid.MustParse("e30629d1-27e5-11ce-875d-00608cb78066")

// hardwareBuffers is the number of device buffers owned by the sink.
const hardwareBuffers = 2

// allowed bit depths of uncompressed input.
var bitDepths = map[uint16]struct{}{
	8:  {},
	16: {},
}

type hardwareBuffer struct {
	data []byte
	n    int
	done bool
}

// AudioSink is a renderer filter.
type AudioSink struct {
	*filter.Filter
	in     *filter.Pin
	device Device
	fixed  *graph.WaveFormat

	mu        sync.Mutex
	measure   metric.MeasureFunc
	stream    Stream
	format    graph.WaveFormat
	hw        []hardwareBuffer
	filling   int
	next      int
	signal    chan struct{}
	flushing  bool
	resetting bool
	played    int64
	volume    int
	balance   int
}

// Option configures the sink.
type Option func(*AudioSink)

// WithFormat restricts the input to exactly one format.
func WithFormat(w graph.WaveFormat) Option {
	return func(s *AudioSink) {
		s.fixed = &w
	}
}

// WithVolume sets the initial volume and balance. Values out of range are
// ignored.
func WithVolume(volume, balance int) Option {
	return func(s *AudioSink) {
		if checkVolume(volume) == nil {
			s.volume = volume
		}
		if checkBalance(balance) == nil {
			s.balance = balance
		}
	}
}

// New creates an audio sink playing on the device.
func New(name string, d Device, options ...Option) (*AudioSink, error) {
	if d == nil {
		return nil, errors.Wrap(graph.ErrInvalidArgument, "nil device")
	}
	s := &AudioSink{
		device:  d,
		filling: -1,
		signal:  make(chan struct{}),
	}
	for _, option := range options {
		option(s)
	}
	s.Filter = filter.New(name, ClassID, filter.Hooks{
		Init:    s.open,
		Start:   s.restart,
		Stop:    s.pause,
		Cleanup: s.close,
	})
	s.in = s.AddPin("Audio Input", filter.Input, filter.PinHooks{
		CheckMediaType: s.checkMediaType,
		Query:          s.query,
		Receive:        s.receive,
		EndOfStream:    s.endOfStream,
		BeginFlush:     s.beginFlush,
		EndFlush:       s.endFlush,
	})
	return s, nil
}

// Input returns the input pin.
func (s *AudioSink) Input() *filter.Pin {
	return s.in
}

func (s *AudioSink) checkMediaType(reg *graph.Registry, mt *graph.MediaType) error {
	if mt.Major != graph.MajorAudio {
		return errors.Wrapf(graph.ErrFormatNotSupported, "major %v", mt.Major)
	}
	if mt.Sub != graph.SubPCM {
		return errors.Wrapf(graph.ErrFormatNotSupported, "sub %v", mt.Sub)
	}
	w, err := mt.WaveFormat()
	if err != nil {
		return err
	}
	if w.Tag != graph.WaveFormatPCM {
		return errors.Wrapf(graph.ErrFormatNotSupported, "tag %#04x", w.Tag)
	}
	if _, ok := bitDepths[w.BitsPerSample]; !ok {
		return errors.Wrapf(graph.ErrFormatNotSupported, "bit depth %d", w.BitsPerSample)
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if s.fixed != nil && (w.SampleRate != s.fixed.SampleRate || w.Channels != s.fixed.Channels || w.BitsPerSample != s.fixed.BitsPerSample) {
		return errors.Wrapf(graph.ErrFormatNotSupported, "%d Hz %d channels %d bits", w.SampleRate, w.Channels, w.BitsPerSample)
	}
	if c, ok := s.device.(FormatChecker); ok {
		if err := c.Supports(w); err != nil {
			return errors.Wrap(graph.ErrFormatNotSupported, err.Error())
		}
	}
	return reg.Validate(mt)
}

func (s *AudioSink) query(c filter.Capability) (interface{}, bool) {
	if c == filter.CapClock {
		return graph.Clock(s), true
	}
	return nil, false
}

// open opens the device for the negotiated format and prepares hardware
// buffers of about one second each. Unconnected sink has nothing to open.
func (s *AudioSink) open() error {
	mt, err := s.in.MediaType()
	if err != nil {
		return nil
	}
	defer mt.Free()
	w, err := mt.WaveFormat()
	if err != nil {
		return err
	}

	stream, err := s.device.Open(w, s.done)
	if err != nil {
		return graph.DeviceFault("open", err)
	}
	if err := stream.Pause(); err != nil {
		stream.Close()
		return graph.DeviceFault("pause", err)
	}

	size := int(w.AvgBytesPerSec) / int(w.BlockAlign) * int(w.BlockAlign)
	if size < int(w.BlockAlign) {
		size = int(w.BlockAlign)
	}
	hw := make([]hardwareBuffer, hardwareBuffers)
	for i := range hw {
		hw[i] = hardwareBuffer{
			data: make([]byte, size),
			done: true,
		}
	}

	s.mu.Lock()
	s.stream = stream
	s.format = w
	s.hw = hw
	s.filling = -1
	s.next = 0
	s.played = 0
	if s.measure == nil {
		s.measure = metric.Meter(s, int64(w.AvgBytesPerSec))
	}
	left, right := Gains(s.volume, s.balance)
	s.mu.Unlock()

	if err := stream.SetVolume(left, right); err != nil {
		s.Log().WithError(err).Warn("apply volume")
	}
	s.Log().Debugf("opened device %d Hz %d channels %d bits, %d bytes per buffer", w.SampleRate, w.Channels, w.BitsPerSample, size)
	return nil
}

func (s *AudioSink) restart(time.Duration) error {
	stream := s.current()
	if stream == nil {
		return nil
	}
	return graph.DeviceFault("restart", stream.Restart())
}

func (s *AudioSink) pause() error {
	stream := s.current()
	if stream == nil {
		return nil
	}
	return graph.DeviceFault("pause", stream.Pause())
}

// close resets and closes the device. Position is reset to zero.
func (s *AudioSink) close() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.resetting = true
	s.broadcast()
	s.mu.Unlock()

	var err error
	if stream != nil {
		if resetErr := stream.Reset(); resetErr != nil {
			err = graph.DeviceFault("reset", resetErr)
		}
		if closeErr := stream.Close(); closeErr != nil && err == nil {
			err = graph.DeviceFault("close", closeErr)
		}
	}

	s.mu.Lock()
	s.resetting = false
	s.flushing = false
	s.hw = nil
	s.filling = -1
	s.played = 0
	s.broadcast()
	s.mu.Unlock()
	return err
}

func (s *AudioSink) current() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// done is the device completion callback.
func (s *AudioSink) done(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.hw) {
		return
	}
	hw := &s.hw[id]
	if !s.resetting {
		s.played += int64(hw.n)
	}
	hw.done = true
	hw.n = 0
	s.broadcast()
}

// broadcast wakes every waiter, must be called under lock.
func (s *AudioSink) broadcast() {
	close(s.signal)
	s.signal = make(chan struct{})
}

// acquire picks the next done hardware buffer in round robin order, must
// be called under lock.
func (s *AudioSink) acquire() bool {
	for i := 0; i < len(s.hw); i++ {
		idx := (s.next + i) % len(s.hw)
		if s.hw[idx].done {
			s.hw[idx].done = false
			s.hw[idx].n = 0
			s.filling = idx
			s.next = (idx + 1) % len(s.hw)
			return true
		}
	}
	return false
}

// receive copies all bytes of the buffer into hardware buffers. It blocks
// while no hardware buffer is available and returns graph.ErrAborted if
// the sink is flushed or stopped meanwhile.
func (s *AudioSink) receive(b *pool.Buffer) error {
	switch s.CurrentState() {
	case filter.Stopped:
		return errors.Wrap(graph.ErrWrongState, "sink is stopped")
	case filter.Paused:
		return errors.Wrap(graph.ErrUnexpected, "sink is not running")
	}

	data := b.Data()
	received := len(data)
	waited := false
	for len(data) > 0 {
		s.mu.Lock()
		if s.flushing {
			s.mu.Unlock()
			return graph.ErrAborted
		}
		if s.stream == nil {
			s.mu.Unlock()
			if waited {
				return graph.ErrAborted
			}
			return errors.Wrap(graph.ErrWrongState, "device is closed")
		}
		if s.filling < 0 && !s.acquire() {
			signal := s.signal
			s.mu.Unlock()
			<-signal
			waited = true
			continue
		}

		id := s.filling
		hw := &s.hw[id]
		n := copy(hw.data[hw.n:], data)
		hw.n += n
		data = data[n:]
		if hw.n < len(hw.data) {
			s.mu.Unlock()
			continue
		}
		s.filling = -1
		stream, full := s.stream, hw.data[:hw.n]
		s.mu.Unlock()

		if err := s.write(stream, id, full); err != nil {
			return err
		}
	}
	s.mu.Lock()
	measure := s.measure
	s.mu.Unlock()
	if measure != nil {
		measure(int64(received))
	}
	return nil
}

// write submits hardware buffer to the device. Write failures after the
// device was closed are reported as abort.
func (s *AudioSink) write(stream Stream, id int, data []byte) error {
	err := stream.Write(id, data)
	if err == nil {
		return nil
	}
	s.mu.Lock()
	closed := s.stream != stream
	if id < len(s.hw) {
		s.hw[id].done = true
		s.hw[id].n = 0
	}
	s.broadcast()
	s.mu.Unlock()
	if closed {
		return graph.ErrAborted
	}
	s.Notify(graph.EventErrorAbort, 0, 0)
	return graph.DeviceFault("write", err)
}

// endOfStream submits the partially filled buffer, waits until the device
// has played everything and notifies completion.
func (s *AudioSink) endOfStream() error {
	s.mu.Lock()
	if s.flushing || s.stream == nil {
		s.mu.Unlock()
		return nil
	}
	var (
		stream = s.stream
		id     = s.filling
		data   []byte
	)
	if id >= 0 {
		hw := &s.hw[id]
		if hw.n > 0 {
			data = hw.data[:hw.n]
		} else {
			hw.done = true
		}
		s.filling = -1
	}
	s.mu.Unlock()

	if data != nil {
		if err := s.write(stream, id, data); err != nil {
			return err
		}
	}
	for {
		s.mu.Lock()
		if s.flushing || s.stream == nil {
			s.mu.Unlock()
			return nil
		}
		if s.drained() {
			s.mu.Unlock()
			break
		}
		signal := s.signal
		s.mu.Unlock()
		<-signal
	}
	s.Log().Debug("end of stream")
	s.Notify(graph.EventComplete, 0, 0)
	return nil
}

// drained reports whether every hardware buffer is done, must be called
// under lock.
func (s *AudioSink) drained() bool {
	for _, hw := range s.hw {
		if !hw.done {
			return false
		}
	}
	return true
}

// beginFlush discards the partially filled buffer, cancels queued ones
// and unblocks Receive.
func (s *AudioSink) beginFlush() error {
	s.mu.Lock()
	s.flushing = true
	if s.filling >= 0 {
		s.hw[s.filling].done = true
		s.hw[s.filling].n = 0
		s.filling = -1
	}
	stream := s.stream
	s.resetting = true
	s.broadcast()
	s.mu.Unlock()

	var err error
	if stream != nil {
		err = graph.DeviceFault("reset", stream.Reset())
	}
	s.mu.Lock()
	s.resetting = false
	s.mu.Unlock()
	return err
}

func (s *AudioSink) endFlush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushing = false
	return nil
}

// Now returns the playing time of bytes played since the device was
// opened.
func (s *AudioSink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format.DurationOf(s.played)
}

// Played returns the number of bytes played since the device was opened.
func (s *AudioSink) Played() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

// Volume returns the volume in hundredths of a decibel.
func (s *AudioSink) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Balance returns the balance in hundredths of a decibel.
func (s *AudioSink) Balance() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

// SetVolume sets the volume in [VolumeMin, VolumeMax].
func (s *AudioSink) SetVolume(v int) error {
	if err := checkVolume(v); err != nil {
		return err
	}
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
	return s.applyVolume()
}

// SetBalance sets the balance in [BalanceMin, BalanceMax].
func (s *AudioSink) SetBalance(b int) error {
	if err := checkBalance(b); err != nil {
		return err
	}
	s.mu.Lock()
	s.balance = b
	s.mu.Unlock()
	return s.applyVolume()
}

func (s *AudioSink) applyVolume() error {
	s.mu.Lock()
	stream := s.stream
	left, right := Gains(s.volume, s.balance)
	s.mu.Unlock()
	if stream == nil {
		return nil
	}
	return graph.DeviceFault("volume", stream.SetVolume(left, right))
}
