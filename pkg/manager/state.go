package manager

// State represents the lifecycle state of a manager.
type State int32

const (
	StateUninitialized State = iota
	StateStarting
	StateStarted
	StateStopping
	StateStopped
	StateFaulted
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateStarting:
		return "Starting"
	case StateStarted:
		return "Started"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	return s >= StateUninitialized && s <= StateFaulted
}

// Transitional reports whether s is Starting or Stopping.
func (s State) Transitional() bool {
	return s == StateStarting || s == StateStopping
}

// Phase tags an event with the point of the transition it announces.
type Phase int

const (
	PhaseBefore Phase = iota
	PhaseAfter
	// PhaseFailed announces a transition aborted with an error.
	PhaseFailed
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseBefore:
		return "Before"
	case PhaseAfter:
		return "After"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}
