package writer

import (
	"errors"
	"fmt"
)

// ErrNilSink is returned by Open when no sink is given.
var ErrNilSink = errors.New("writer: sink is nil")

// StateError reports an operation invoked in a lifecycle state that does not
// allow it. It indicates a programming error in the caller.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("writer: cannot %s in state %s", e.Op, e.State)
}

// NewStateError creates a new StateError.
func NewStateError(op string, state State) *StateError {
	return &StateError{Op: op, State: state}
}

// FlushError reports a sink failure. Lost counts the rows that were
// buffered or in flight and will never reach the sink.
type FlushError struct {
	Op   string
	Lost int
	Err  error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("writer: sink failed during %s (%d rows lost): %v", e.Op, e.Lost, e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// NewFlushError creates a new FlushError.
func NewFlushError(op string, lost int, err error) *FlushError {
	return &FlushError{Op: op, Lost: lost, Err: err}
}
