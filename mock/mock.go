// Package mock provides mocks for graph collaborators and allows to execute
// integration tests without audio hardware.
package mock

import (
	"io"
	"sync"

	"pipelined.dev/graph"
	"pipelined.dev/graph/render"
)

// Store mocks a store.Store interface.
type Store struct {
	Data          []byte
	ErrorOnRead   error
	ErrorOnLength error
	ErrorOnClose  error

	mu     sync.Mutex
	reads  int
	closed bool
}

// ReadAt implements io.ReaderAt.
func (m *Store) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.ErrorOnRead != nil {
		return 0, m.ErrorOnRead
	}
	if off >= int64(len(m.Data)) {
		return 0, io.EOF
	}
	n := copy(p, m.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Length returns the data size.
func (m *Store) Length() (int64, int64, error) {
	if m.ErrorOnLength != nil {
		return 0, 0, m.ErrorOnLength
	}
	return int64(len(m.Data)), int64(len(m.Data)), nil
}

// Close implements io.Closer.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.ErrorOnClose
}

// Reads returns the number of read calls.
func (m *Store) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Closed reports whether the store was closed.
func (m *Store) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Device mocks a render.Device interface. Every open returns a new Stream
// that completes buffers only when asked to, unless AutoComplete is set.
type Device struct {
	AutoComplete bool
	ErrorOnOpen  error
	ErrorOnWrite error
	ErrorOnReset error

	mu      sync.Mutex
	streams []*Stream
}

// Open implements render.Device.
func (m *Device) Open(format graph.WaveFormat, done func(id int)) (render.Stream, error) {
	if m.ErrorOnOpen != nil {
		return nil, m.ErrorOnOpen
	}
	s := &Stream{
		Format:       format,
		done:         done,
		autoComplete: m.AutoComplete,
		errorOnWrite: m.ErrorOnWrite,
		errorOnReset: m.ErrorOnReset,
		written:      make(chan struct{}, 64),
	}
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

// Stream returns the last opened stream.
func (m *Device) Stream() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// Opened returns the number of opened streams.
func (m *Device) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Stream mocks a render.Stream interface.
type Stream struct {
	Format graph.WaveFormat

	done         func(id int)
	autoComplete bool
	errorOnWrite error
	errorOnReset error
	written      chan struct{}

	mu      sync.Mutex
	pending []int
	data    []byte
	writes  int
	paused  bool
	resets  int
	closed  bool
	left    float64
	right   float64
}

// Write implements render.Stream. Data is copied.
func (m *Stream) Write(id int, data []byte) error {
	if m.errorOnWrite != nil {
		return m.errorOnWrite
	}
	m.mu.Lock()
	m.data = append(m.data, data...)
	m.writes++
	if !m.autoComplete {
		m.pending = append(m.pending, id)
	}
	m.mu.Unlock()
	select {
	case m.written <- struct{}{}:
	default:
	}
	if m.autoComplete {
		m.done(id)
	}
	return nil
}

// Written is signalled on every write.
func (m *Stream) Written() <-chan struct{} {
	return m.written
}

// Complete finishes up to n oldest pending buffers and returns how many
// were finished.
func (m *Stream) Complete(n int) int {
	m.mu.Lock()
	if n > len(m.pending) {
		n = len(m.pending)
	}
	ids := append([]int(nil), m.pending[:n]...)
	m.pending = m.pending[n:]
	m.mu.Unlock()
	for _, id := range ids {
		m.done(id)
	}
	return len(ids)
}

// Pending returns the number of buffers written but not completed.
func (m *Stream) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Pause implements render.Stream.
func (m *Stream) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	return nil
}

// Restart implements render.Stream.
func (m *Stream) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	return nil
}

// Reset implements render.Stream. Pending buffers are completed.
func (m *Stream) Reset() error {
	if m.errorOnReset != nil {
		return m.errorOnReset
	}
	m.mu.Lock()
	m.resets++
	n := len(m.pending)
	m.mu.Unlock()
	m.Complete(n)
	return nil
}

// SetVolume implements render.Stream.
func (m *Stream) SetVolume(left, right float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left, m.right = left, right
	return nil
}

// Close implements render.Stream.
func (m *Stream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Data returns a copy of all written bytes.
func (m *Stream) Data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Writes returns the number of written buffers.
func (m *Stream) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Paused reports whether the stream is paused.
func (m *Stream) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Resets returns the number of resets.
func (m *Stream) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Closed reports whether the stream is closed.
func (m *Stream) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Volume returns the last applied gains.
func (m *Stream) Volume() (left, right float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.left, m.right
}

// EventSink records notified events.
type EventSink struct {
	ErrorOnNotify error

	mu     sync.Mutex
	events []graph.Event
}

// Notify implements graph.EventSink.
func (m *EventSink) Notify(code graph.EventCode, param1, param2 int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, graph.Event{Code: code, Param1: param1, Param2: param2})
	return m.ErrorOnNotify
}

// Events returns the recorded events.
func (m *EventSink) Events() []graph.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]graph.Event(nil), m.events...)
}
