package filter

import (
	"time"

	"github.com/pkg/errors"

	"pipelined.dev/graph"
)

// State identifies one of the states a filter can be in.
type State int

// States are totally ordered: Stopped <-> Paused <-> Running.
const (
	Stopped State = iota
	Paused
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "state.Stopped"
	case Paused:
		return "state.Paused"
	case Running:
		return "state.Running"
	default:
		return "state.Unknown"
	}
}

// Hooks are the filter specific parts of transitions. Every hook is
// optional. When a hook fails, the filter stays at its pre-transition
// state and the error is returned to the caller.
type Hooks struct {
	// Init allocates resources, Stopped -> Paused.
	Init func() error
	// Start starts streaming, Paused -> Running.
	Start func(start time.Duration) error
	// Stop stops streaming, Running -> Paused.
	Stop func() error
	// Cleanup releases resources, Paused -> Stopped.
	Cleanup func() error
}

// Stop moves the filter to Stopped, one step at a time.
func (f *Filter) Stop() error {
	s, err := f.begin()
	if err != nil {
		return err
	}
	defer f.end()
	if s == Running {
		if err := f.step(Paused, f.stop); err != nil {
			return err
		}
		s = Paused
	}
	if s == Paused {
		return f.step(Stopped, f.cleanup)
	}
	return nil
}

// Pause moves the filter to Paused.
func (f *Filter) Pause() error {
	s, err := f.begin()
	if err != nil {
		return err
	}
	defer f.end()
	switch s {
	case Stopped:
		return f.step(Paused, f.init)
	case Running:
		return f.step(Paused, f.stop)
	}
	return nil
}

// Run moves the filter to Running. Start time is the reference time at
// which streaming begins, it's recorded once the filter is running.
func (f *Filter) Run(start time.Duration) error {
	s, err := f.begin()
	if err != nil {
		return err
	}
	defer f.end()
	if s == Stopped {
		if err := f.step(Paused, f.init); err != nil {
			return err
		}
		s = Paused
	}
	if s == Paused {
		if err := f.step(Running, func() error {
			return call1(f.hooks.Start, start)
		}); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.start = start
	f.mu.Unlock()
	return nil
}

// State returns the current state. If a transition is in progress, it
// waits up to timeout for it to complete. If it's still in progress after
// that, the last stable state is returned with ErrTransitionInProgress.
func (f *Filter) State(timeout time.Duration) (State, error) {
	f.mu.Lock()
	pending := f.pending
	s := f.state
	f.mu.Unlock()
	if pending == nil {
		return s, nil
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-pending:
	case <-t.C:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending != nil {
		return f.state, graph.ErrTransitionInProgress
	}
	return f.state, nil
}

// CurrentState returns the last stable state without waiting.
func (f *Filter) CurrentState() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// begin sets the transition guard.
func (f *Filter) begin() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending != nil {
		return f.state, graph.ErrTransitionInProgress
	}
	f.pending = make(chan struct{})
	return f.state, nil
}

// end clears the transition guard.
func (f *Filter) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.pending)
	f.pending = nil
}

// step executes the hook without holding the lock and moves to the next
// state if it succeeds.
func (f *Filter) step(to State, hook func() error) error {
	from := f.CurrentState()
	if err := hook(); err != nil {
		f.log.WithError(err).Debugf("%v -> %v failed", from, to)
		return errors.WithMessagef(err, "%v -> %v", from, to)
	}
	f.mu.Lock()
	f.state = to
	f.mu.Unlock()
	f.log.Debugf("%v -> %v", from, to)
	return nil
}

// init activates connected pins and calls the init hook. Pins are
// deactivated again if the hook fails.
func (f *Filter) init() error {
	pins := f.Pins()
	active := make([]*Pin, 0, len(pins))
	for _, p := range pins {
		if err := p.active(); err != nil {
			for _, a := range active {
				a.inactive()
			}
			return err
		}
		active = append(active, p)
	}
	if err := call(f.hooks.Init); err != nil {
		for _, a := range active {
			a.inactive()
		}
		return err
	}
	return nil
}

func (f *Filter) stop() error {
	return call(f.hooks.Stop)
}

func (f *Filter) cleanup() error {
	if err := call(f.hooks.Cleanup); err != nil {
		return err
	}
	for _, p := range f.Pins() {
		p.inactive()
	}
	return nil
}

func call(fn func() error) error {
	if fn == nil {
		return nil
	}
	return fn()
}

func call1(fn func(time.Duration) error, d time.Duration) error {
	if fn == nil {
		return nil
	}
	return fn(d)
}
