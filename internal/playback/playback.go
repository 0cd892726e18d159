// Package playback plays queued device buffers in order on a worker
// goroutine. Devices supply a blocking write function and get the stream
// contract of render: pause, restart, synchronous reset and completion
// callbacks.
package playback

import (
	"sync"

	"github.com/pkg/errors"

	"pipelined.dev/graph"
	"pipelined.dev/graph/internal/queue"
)

// WriteFunc blocks until the device has consumed p.
type WriteFunc func(p []byte) error

type item struct {
	id   int
	data []byte
}

// Player owns the worker goroutine. It starts paused.
type Player struct {
	write WriteFunc
	chunk int
	done  func(id int)

	mu         sync.Mutex
	signal     chan struct{}
	queue      queue.Queue[item]
	generation int
	busy       bool
	paused     bool
	closed     bool
	err        error
	exited     chan struct{}
}

// New starts a player. Buffers are written in pieces of at most chunk
// bytes, pause and reset take effect between pieces.
func New(write WriteFunc, chunk int, done func(id int)) *Player {
	if chunk < 1 {
		chunk = 1
	}
	p := &Player{
		write:  write,
		chunk:  chunk,
		done:   done,
		signal: make(chan struct{}),
		paused: true,
		exited: make(chan struct{}),
	}
	go p.run()
	return p
}

// Write queues the buffer. The error of a failed device write is returned
// by every following call.
func (p *Player) Write(id int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.Wrap(graph.ErrWrongState, "player is closed")
	}
	if p.err != nil {
		return p.err
	}
	p.queue.Push(item{id: id, data: data})
	p.broadcast()
	return nil
}

// Pause holds playback at the next piece.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return nil
}

// Restart resumes playback.
func (p *Player) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.broadcast()
	return nil
}

// Reset cancels queued buffers and the one being played. Done is called
// for each of them before Reset returns.
func (p *Player) Reset() error {
	p.mu.Lock()
	p.generation++
	var cancelled []int
	p.queue.Drain(func(it item) {
		cancelled = append(cancelled, it.id)
	})
	p.broadcast()
	for p.busy {
		signal := p.signal
		p.mu.Unlock()
		<-signal
		p.mu.Lock()
	}
	p.mu.Unlock()

	for _, id := range cancelled {
		p.done(id)
	}
	return nil
}

// Close stops the worker. Buffers still queued are cancelled.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.broadcast()
	p.mu.Unlock()
	<-p.exited
	return p.Reset()
}

// Err returns the device write failure.
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// broadcast must be called under lock.
func (p *Player) broadcast() {
	close(p.signal)
	p.signal = make(chan struct{})
}

// wait blocks until cond is false, must be called under lock.
func (p *Player) wait(cond func() bool) {
	for cond() {
		signal := p.signal
		p.mu.Unlock()
		<-signal
		p.mu.Lock()
	}
}

func (p *Player) run() {
	defer close(p.exited)
	for {
		p.mu.Lock()
		p.wait(func() bool {
			return !p.closed && (p.paused || p.queue.Len() == 0)
		})
		if p.closed {
			p.mu.Unlock()
			return
		}
		it, _ := p.queue.Pop()
		generation := p.generation
		p.busy = true
		p.mu.Unlock()

		p.play(it.data, generation)
		p.done(it.id)

		p.mu.Lock()
		p.busy = false
		p.broadcast()
		p.mu.Unlock()
	}
}

// play writes data piece by piece until it's done, reset or closed.
func (p *Player) play(data []byte, generation int) {
	for len(data) > 0 {
		p.mu.Lock()
		p.wait(func() bool {
			return p.paused && !p.closed && p.generation == generation
		})
		if p.closed || p.generation != generation || p.err != nil {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		n := min(p.chunk, len(data))
		if err := p.write(data[:n]); err != nil {
			p.mu.Lock()
			p.err = graph.DeviceFault("write", err)
			p.mu.Unlock()
			return
		}
		data = data[n:]
	}
}
