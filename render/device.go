package render

import "pipelined.dev/graph"

// Device opens output streams. Done is called with the id of every written
// buffer once the device doesn't need it anymore, either because it was
// played or because it was cancelled by Reset. Done may be called from any
// goroutine, including the one calling Write or Reset.
type Device interface {
	Open(format graph.WaveFormat, done func(id int)) (Stream, error)
}

// Stream is an open device output.
type Stream interface {
	// Write queues the buffer for playback. Data must not be modified
	// until done is called with the same id.
	Write(id int, data []byte) error
	Pause() error
	Restart() error
	// Reset cancels all queued buffers. Done is called for each of them
	// before Reset returns.
	Reset() error
	// SetVolume applies linear gains in [0, 1].
	SetVolume(left, right float64) error
	Close() error
}

// FormatChecker is a device that knows which formats it can play.
type FormatChecker interface {
	Supports(format graph.WaveFormat) error
}
