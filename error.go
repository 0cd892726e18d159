package graph

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidArgument is returned for nil or out-of-range inputs.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotCommitted is returned when buffers are requested from an
	// allocator that is not committed.
	ErrNotCommitted = errors.New("allocator is not committed")
	// ErrUnexpected is returned when an operation is attempted before the
	// step it depends on.
	ErrUnexpected = errors.New("unexpected call")
	// ErrWrongState is returned when the component state forbids the call.
	ErrWrongState = errors.New("wrong state")
	// ErrTransitionInProgress is returned while a filter changes state.
	ErrTransitionInProgress = errors.New("state transition in progress")
	// ErrTimeout is returned by non-blocking calls that found nothing.
	ErrTimeout = errors.New("timeout")
	// ErrFormatNotSupported is returned when negotiation rejects a media
	// type.
	ErrFormatNotSupported = errors.New("media type not supported")
	// ErrDevice is the kind of every audio device failure.
	ErrDevice = errors.New("device error")
	// ErrIO is the kind of every backing store failure.
	ErrIO = errors.New("i/o error")
	// ErrOutOfMemory is returned when storage cannot be allocated.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrAlreadyConnected is returned when a connected pin is offered a new
	// media type.
	ErrAlreadyConnected = errors.New("pin is already connected")
	// ErrNotConnected is returned by streaming calls on a free pin.
	ErrNotConnected = errors.New("pin is not connected")
	// ErrNoCapability is returned when a pin doesn't expose a capability.
	ErrNoCapability = errors.New("capability not supported")

	// ErrShortRead is a status, not a failure: fewer bytes than requested
	// were available.
	ErrShortRead = errors.New("short read")
	// ErrAborted is a status, not a failure: the call was interrupted by a
	// flush, a reset or a decommit.
	ErrAborted = errors.New("aborted")
)

// Fault wraps a collaborator failure with its taxonomy kind.
type Fault struct {
	Kind error
	Op   string
	Err  error
}

func (e *Fault) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Is reports whether target is the fault kind.
func (e *Fault) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the collaborator error.
func (e *Fault) Unwrap() error {
	return e.Err
}

// DeviceFault wraps an audio device error. Nil is passed through.
func DeviceFault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: ErrDevice, Op: op, Err: err}
}

// IOFault wraps a backing store error. Nil is passed through.
func IOFault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: ErrIO, Op: op, Err: err}
}

// IsAbort reports whether err is the aborted status. Callers use it to
// tell a teardown apart from a real fault.
func IsAbort(err error) bool {
	return errors.Is(err, ErrAborted)
}
