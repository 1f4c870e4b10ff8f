package manager

import "github.com/bft-labs/mgrkit/pkg/dispatch"

// Lifecycle is the part of a manager supplied by the concrete type.
//
// Start and Stop perform the actual transition and return the resulting
// state. They are called directly by owners and, for the asynchronous
// variants, from a goroutine started by Base. Base never runs two Start
// calls begun through BeginStart at the same time (likewise for Stop), but
// it does not exclude Start against Stop nor guard against repeated calls:
// a concrete manager that needs idempotence or mutual exclusion checks its
// own state.
type Lifecycle interface {
	Start() (State, error)
	Stop() (State, error)
}

// Manager is the capability set every manager exposes.
type Manager interface {
	Lifecycle

	// ID returns the instance identifier.
	ID() string

	// Name returns the human-readable instance name.
	Name() string

	// State returns the current lifecycle state. Safe for concurrent use.
	State() State

	// DispatchMode returns the event delivery flags.
	DispatchMode() dispatch.Mode

	// SetDispatchMode replaces the event delivery flags. Emissions already
	// handed to the dispatcher keep the mode they were raised with.
	SetDispatchMode(dispatch.Mode)

	// BeginStart runs Start asynchronously. It blocks while another
	// asynchronous start of this instance has not been ended.
	BeginStart(cb Callback, asyncState any) *Task

	// EndStart waits for the task returned by BeginStart and returns the
	// result of Start. Each task can be ended exactly once.
	EndStart(t *Task) (State, error)

	// BeginStop runs Stop asynchronously; see BeginStart.
	BeginStop(cb Callback, asyncState any) *Task

	// EndStop waits for the task returned by BeginStop; see EndStart.
	EndStop(t *Task) (State, error)

	// EventStart is raised around start transitions.
	EventStart() *Event

	// EventStop is raised around stop transitions.
	EventStop() *Event
}

// Callback is invoked on the worker goroutine once an asynchronous
// operation has completed. It typically calls the matching End method.
type Callback func(t *Task)
