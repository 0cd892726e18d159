/*
Package filter provides the base every processing stage of a graph is built
on: a state machine, a set of pins and the connection protocol between them.

Concrete filters embed *Filter and provide Hooks for their transitions and
PinHooks for each pin:

	s := &Sink{}
	s.Filter = filter.New("sink", SinkClass, filter.Hooks{
		Init:    s.open,
		Start:   s.restart,
		Stop:    s.pause,
		Cleanup: s.close,
	})
	s.in = s.AddPin("in", filter.Input, filter.PinHooks{
		CheckMediaType: s.checkMediaType,
		Receive:        s.receive,
	})

Transitions always move one step at a time along Stopped, Paused and
Running. Only one transition can be executed at a time, callers that
observe another one in progress get graph.ErrTransitionInProgress.
*/
package filter

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"pipelined.dev/graph"
	"pipelined.dev/graph/log"
)

// Filter is a named processing stage with a lifecycle state machine and a
// set of pins.
type Filter struct {
	uid   xid.ID
	class uuid.UUID
	name  string
	log   logrus.FieldLogger
	hooks Hooks

	mu      sync.Mutex
	state   State
	pending chan struct{}
	start   time.Duration
	clock   graph.Clock
	events  graph.EventSink
	pins    []*Pin
}

// New creates a stopped filter.
func New(name string, class uuid.UUID, hooks Hooks) *Filter {
	uid := xid.New()
	return &Filter{
		uid:   uid,
		class: class,
		name:  name,
		hooks: hooks,
		state: Stopped,
		log: log.GetLogger().WithFields(logrus.Fields{
			"filter": name,
			"uid":    uid.String(),
		}),
	}
}

// UID returns the unique id of the filter instance.
func (f *Filter) UID() xid.ID {
	return f.uid
}

// Class returns the class id of the filter.
func (f *Filter) Class() uuid.UUID {
	return f.class
}

// Name returns the display name.
func (f *Filter) Name() string {
	return f.name
}

// Log returns the filter logger.
func (f *Filter) Log() logrus.FieldLogger {
	return f.log
}

// StartTime returns the reference time passed to the last Run.
func (f *Filter) StartTime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start
}

// SetClock sets the reference clock.
func (f *Filter) SetClock(c graph.Clock) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = c
}

// Clock returns the reference clock, nil if not set.
func (f *Filter) Clock() graph.Clock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

// SetEventSink sets the receiver of the filter events.
func (f *Filter) SetEventSink(s graph.EventSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = s
}

// Notify sends event to the event sink. Failures are logged and ignored.
func (f *Filter) Notify(code graph.EventCode, param1, param2 int64) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	if events == nil {
		return
	}
	if err := events.Notify(code, param1, param2); err != nil {
		f.log.WithError(err).Warnf("notify %v", code)
	}
}

// AddPin creates a new pin owned by the filter. Pins must be added before
// the filter is used.
func (f *Filter) AddPin(name string, dir Direction, hooks PinHooks) *Pin {
	p := &Pin{
		filter: f,
		name:   name,
		dir:    dir,
		hooks:  hooks,
	}
	f.mu.Lock()
	f.pins = append(f.pins, p)
	f.mu.Unlock()
	return p
}

// Pins returns the pins of the filter.
func (f *Filter) Pins() []*Pin {
	f.mu.Lock()
	defer f.mu.Unlock()
	pins := make([]*Pin, len(f.pins))
	copy(pins, f.pins)
	return pins
}

// Pin finds a pin by name.
func (f *Filter) Pin(name string) (*Pin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pins {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

// idle reports whether the filter is stopped with no transition in
// progress.
func (f *Filter) idle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == Stopped && f.pending == nil
}
