package stress

import (
	"encoding/json"
	"fmt"
)

// RunState is the lifecycle state of one scenario run.
type RunState int32

const (
	// StatePending means the run has not started.
	StatePending RunState = iota
	// StateRunning means traffic is in flight.
	StateRunning
	// StatePassed means every response validated.
	StatePassed
	// StateFailed means at least one response failed validation.
	StateFailed
	// StateAborted means a transport failure or cancellation stopped the run.
	StateAborted
)

func (s RunState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateRunning:
		return "RUNNING"
	case StatePassed:
		return "PASSED"
	case StateFailed:
		return "FAILED"
	case StateAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("RunState(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool {
	return s == StatePassed || s == StateFailed || s == StateAborted
}

// MarshalJSON encodes the state by name.
func (s RunState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// canTransition reports whether from -> to is allowed. A pending run may be
// aborted without ever running when it is cancelled before it starts.
func canTransition(from, to RunState) bool {
	switch from {
	case StatePending:
		return to == StateRunning || to == StateAborted
	case StateRunning:
		return to.Terminal()
	default:
		return false
	}
}

// InvalidTransitionError is returned for a transition the state machine
// does not allow.
type InvalidTransitionError struct {
	From, To RunState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid run state transition %s -> %s", e.From, e.To)
}
