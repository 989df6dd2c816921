package pipeline

import (
	"errors"
	"fmt"
)

// State is the supervisor lifecycle state
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateDraining
	StateStopped
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

var (
	// ErrDrainTimeout is reported when stages do not finish within the drain timeout.
	ErrDrainTimeout = errors.New("pipeline did not drain in time")

	// ErrInferenceStalled is reported when one inference call exceeds the stall timeout.
	ErrInferenceStalled = errors.New("inference call stalled")
)

// FatalError is a condition a stage could not resolve locally. It moves the
// supervisor to Draining.
type FatalError struct {
	Component string
	Err       error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
