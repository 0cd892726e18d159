package graph

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// EventCode identifies a graph event.
type EventCode int

// Event codes.
const (
	EventComplete           EventCode = 0x01
	EventUserAbort          EventCode = 0x02
	EventErrorAbort         EventCode = 0x03
	EventStreamErrorStopped EventCode = 0x06
	EventPaused             EventCode = 0x0e
)

func (c EventCode) String() string {
	switch c {
	case EventComplete:
		return "complete"
	case EventUserAbort:
		return "user abort"
	case EventErrorAbort:
		return "error abort"
	case EventStreamErrorStopped:
		return "stream error stopped"
	case EventPaused:
		return "paused"
	}
	return fmt.Sprintf("event(%#x)", int(c))
}

// EventSink receives terminal events from filters.
type EventSink interface {
	Notify(code EventCode, param1, param2 int64) error
}

// Event is a notification received by EventQueue.
type Event struct {
	Code   EventCode
	Param1 int64
	Param2 int64
}

// EventQueue is an EventSink backed by a buffered channel.
type EventQueue struct {
	events chan Event
}

// NewEventQueue returns a queue that holds up to size events.
func NewEventQueue(size int) *EventQueue {
	return &EventQueue{
		events: make(chan Event, size),
	}
}

// Notify enqueues the event. ErrTimeout is returned if the queue is full.
func (q *EventQueue) Notify(code EventCode, param1, param2 int64) error {
	select {
	case q.events <- Event{Code: code, Param1: param1, Param2: param2}:
		return nil
	default:
		return errors.Wrapf(ErrTimeout, "event queue is full, dropped %v", code)
	}
}

// Events exposes the queue.
func (q *EventQueue) Events() <-chan Event {
	return q.events
}

// WaitForCompletion blocks until a terminal event arrives or the context
// is done. Other events are discarded.
func (q *EventQueue) WaitForCompletion(ctx context.Context) (Event, error) {
	for {
		select {
		case e := <-q.events:
			switch e.Code {
			case EventComplete, EventUserAbort, EventErrorAbort, EventStreamErrorStopped:
				return e, nil
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
