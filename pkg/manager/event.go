package manager

import (
	"sync"
	"time"

	"github.com/bft-labs/mgrkit/pkg/dispatch"
)

// EventArgs describes one state-change notification. It is immutable.
type EventArgs struct {
	phase  Phase
	state  State
	reason string
	err    error
	at     time.Time
}

// EventOption sets an optional EventArgs field.
type EventOption func(*EventArgs)

// WithReason attaches a free-form reason.
func WithReason(reason string) EventOption {
	return func(e *EventArgs) { e.reason = reason }
}

// WithErr attaches the error that caused a PhaseFailed event.
func WithErr(err error) EventOption {
	return func(e *EventArgs) { e.err = err }
}

// WithState overrides the state recorded in the event. By default OnStart
// and OnStop record the manager state at emission time.
func WithState(s State) EventOption {
	return func(e *EventArgs) { e.state = s }
}

// WithTime overrides the emission timestamp.
func WithTime(t time.Time) EventOption {
	return func(e *EventArgs) { e.at = t }
}

// NewEventArgs creates event arguments for phase.
func NewEventArgs(phase Phase, opts ...EventOption) EventArgs {
	e := EventArgs{phase: phase, state: -1, at: time.Now()}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Phase returns the transition point the event announces.
func (e EventArgs) Phase() Phase { return e.phase }

// State returns the manager state recorded at emission time.
func (e EventArgs) State() State { return e.state }

// Reason returns the optional reason text.
func (e EventArgs) Reason() string { return e.reason }

// Err returns the error attached to a failed transition, if any.
func (e EventArgs) Err() error { return e.err }

// Time returns when the event was created.
func (e EventArgs) Time() time.Time { return e.at }

func (e EventArgs) hasState() bool { return e.state != -1 }

func (e EventArgs) withState(s State) EventArgs {
	e.state = s
	return e
}

// Listener receives state-change notifications.
type Listener func(sender Manager, e EventArgs)

// Subscription identifies a registered listener.
type Subscription uint64

type subscriber struct {
	id   Subscription
	fn   Listener
	loop *dispatch.Loop
}

// Event is a thread-safe listener registry. Registration changes replace
// the listener slice instead of mutating it, so an emission that already
// took a snapshot is not affected by listeners added or removed meanwhile.
type Event struct {
	mu   sync.Mutex
	next Subscription
	subs []subscriber
}

// Subscribe registers l and returns its subscription.
func (ev *Event) Subscribe(l Listener) Subscription {
	return ev.add(l, nil)
}

// SubscribeOn registers l as affine to loop: when the emitting manager has
// UI invocation enabled, l runs on loop's goroutine.
func (ev *Event) SubscribeOn(loop *dispatch.Loop, l Listener) Subscription {
	return ev.add(l, loop)
}

func (ev *Event) add(l Listener, loop *dispatch.Loop) Subscription {
	if l == nil {
		return 0
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.next++
	subs := make([]subscriber, len(ev.subs), len(ev.subs)+1)
	copy(subs, ev.subs)
	ev.subs = append(subs, subscriber{id: ev.next, fn: l, loop: loop})
	return ev.next
}

// Unsubscribe removes the listener registered as s. It reports whether s
// was registered.
func (ev *Event) Unsubscribe(s Subscription) bool {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	for i, sub := range ev.subs {
		if sub.id != s {
			continue
		}
		subs := make([]subscriber, 0, len(ev.subs)-1)
		subs = append(subs, ev.subs[:i]...)
		ev.subs = append(subs, ev.subs[i+1:]...)
		return true
	}
	return false
}

// Len returns the number of registered listeners.
func (ev *Event) Len() int {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return len(ev.subs)
}

func (ev *Event) snapshot() []subscriber {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.subs
}
