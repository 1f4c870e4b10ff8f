package manager

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bft-labs/mgrkit/pkg/dispatch"
	"github.com/bft-labs/mgrkit/pkg/log"
)

// Base implements everything in Manager except Start and Stop. Concrete
// managers embed *Base and pass themselves to NewBase:
//
//	type Pump struct {
//		*manager.Base
//	}
//
//	func NewPump() *Pump {
//		p := &Pump{}
//		p.Base = manager.NewBase(p, manager.WithName("pump"))
//		return p
//	}
//
//	func (p *Pump) Start() (manager.State, error) {
//		p.OnStart(manager.PhaseBefore)
//		// ... start pumping ...
//		p.SetState(manager.StateStarted)
//		p.OnStart(manager.PhaseAfter)
//		return p.State(), nil
//	}
type Base struct {
	id     string
	name   string
	impl   Lifecycle
	self   Manager
	logger log.Logger

	state atomic.Int32

	modeMu sync.RWMutex
	mode   dispatch.Mode

	raiser     *dispatch.Raiser
	ownsRaiser bool

	startEvent Event
	stopEvent  Event

	starts direction
	stops  direction

	closeMu sync.RWMutex
	closed  bool
	tasks   sync.WaitGroup
}

// bound pairs a Base with a Lifecycle that does not embed it, so that
// listeners always receive a complete Manager as sender.
type bound struct {
	*Base
	Lifecycle
}

// NewBase creates the shared part of a manager around impl. The manager
// starts in StateUninitialized.
func NewBase(impl Lifecycle, opts ...Option) *Base {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	b := &Base{
		id:   o.id,
		name: o.name,
		impl: impl,
		mode: o.mode,
		logger: log.With(o.logger,
			log.String("manager", o.name),
			log.String("id", o.id),
		),
		starts: newDirection(OpStart),
		stops:  newDirection(OpStop),
	}
	b.state.Store(int32(StateUninitialized))

	if o.raiser != nil {
		b.raiser = o.raiser
	} else {
		b.raiser = dispatch.NewRaiser(dispatch.WithLogger(b.logger))
		b.ownsRaiser = true
	}

	if m, ok := impl.(Manager); ok {
		b.self = m
	} else {
		b.self = bound{Base: b, Lifecycle: impl}
	}
	return b
}

// ID returns the instance identifier.
func (b *Base) ID() string {
	return b.id
}

// Name returns the instance name.
func (b *Base) Name() string {
	return b.name
}

// Logger returns the instance logger, already tagged with name and id.
func (b *Base) Logger() log.Logger {
	return b.logger
}

// State returns the current lifecycle state.
func (b *Base) State() State {
	return State(b.state.Load())
}

// SetState records a new state. It is meant to be called by the concrete
// Start and Stop implementations only.
func (b *Base) SetState(s State) {
	old := State(b.state.Swap(int32(s)))
	if old != s {
		b.logger.Debug("state change",
			log.String("from", old.String()),
			log.String("to", s.String()),
		)
	}
}

// CompareAndSetState sets the state to next only if it currently is old.
func (b *Base) CompareAndSetState(old, next State) bool {
	if !b.state.CompareAndSwap(int32(old), int32(next)) {
		return false
	}
	b.logger.Debug("state change",
		log.String("from", old.String()),
		log.String("to", next.String()),
	)
	return true
}

// DispatchMode returns the event delivery flags.
func (b *Base) DispatchMode() dispatch.Mode {
	b.modeMu.RLock()
	defer b.modeMu.RUnlock()
	return b.mode
}

// SetDispatchMode replaces the event delivery flags.
func (b *Base) SetDispatchMode(m dispatch.Mode) {
	b.modeMu.Lock()
	b.mode = m
	b.modeMu.Unlock()
	b.logger.Debug("dispatch mode", log.String("mode", m.String()))
}

func (b *Base) updateMode(fn func(*dispatch.Mode)) {
	b.modeMu.Lock()
	defer b.modeMu.Unlock()
	fn(&b.mode)
}

// EventSyncInvocation reports whether notifications block the emitter.
func (b *Base) EventSyncInvocation() bool { return b.DispatchMode().Sync }

// SetEventSyncInvocation sets the Sync flag.
func (b *Base) SetEventSyncInvocation(v bool) { b.updateMode(func(m *dispatch.Mode) { m.Sync = v }) }

// EventUIInvocation reports whether affine listeners run on their loop.
func (b *Base) EventUIInvocation() bool { return b.DispatchMode().UI }

// SetEventUIInvocation sets the UI flag.
func (b *Base) SetEventUIInvocation(v bool) { b.updateMode(func(m *dispatch.Mode) { m.UI = v }) }

// EventParallelInvocation reports whether listeners are fanned out.
func (b *Base) EventParallelInvocation() bool { return b.DispatchMode().Parallel }

// SetEventParallelInvocation sets the Parallel flag.
func (b *Base) SetEventParallelInvocation(v bool) {
	b.updateMode(func(m *dispatch.Mode) { m.Parallel = v })
}

// EventStart returns the start notification registry.
func (b *Base) EventStart() *Event {
	return &b.startEvent
}

// EventStop returns the stop notification registry.
func (b *Base) EventStop() *Event {
	return &b.stopEvent
}

// OnStart raises a start notification for phase. Concrete managers call it
// from Start at the points where the transition progresses.
func (b *Base) OnStart(phase Phase, opts ...EventOption) {
	b.OnStartWithArgs(NewEventArgs(phase, opts...))
}

// OnStartWithArgs raises a start notification with caller-built arguments.
func (b *Base) OnStartWithArgs(e EventArgs) {
	b.RaiseEvent(&b.startEvent, b.stamp(e))
}

// OnStop raises a stop notification for phase.
func (b *Base) OnStop(phase Phase, opts ...EventOption) {
	b.OnStopWithArgs(NewEventArgs(phase, opts...))
}

// OnStopWithArgs raises a stop notification with caller-built arguments.
func (b *Base) OnStopWithArgs(e EventArgs) {
	b.RaiseEvent(&b.stopEvent, b.stamp(e))
}

func (b *Base) stamp(e EventArgs) EventArgs {
	if !e.hasState() {
		e = e.withState(b.State())
	}
	return e
}

// RaiseEvent delivers e to the listeners registered on ev when the call
// is made, using the current dispatch mode.
func (b *Base) RaiseEvent(ev *Event, e EventArgs) {
	subs := ev.snapshot()
	if len(subs) == 0 {
		return
	}

	sender := b.self
	targets := make([]dispatch.Target, len(subs))
	for i, s := range subs {
		fn := s.fn
		targets[i] = dispatch.Target{
			Fn:   func() { fn(sender, e) },
			Loop: s.loop,
		}
	}
	b.raiser.RaiseOn(b.id, b.DispatchMode(), targets)
}

// ActiveStarts returns the number of asynchronous starts begun and not yet
// ended, including those waiting for admission.
func (b *Base) ActiveStarts() int {
	return int(b.starts.active.Load())
}

// ActiveStops returns the number of asynchronous stops begun and not yet
// ended.
func (b *Base) ActiveStops() int {
	return int(b.stops.active.Load())
}

// Close waits for running asynchronous operations to complete, then drains
// queued notifications: it closes a private dispatcher, or releases this
// manager's queue on a shared one. Called from a listener it does not wait
// for queued notifications. Begin calls made after
// Close return a task that ends with ErrClosed. Close does not call Stop.
func (b *Base) Close() error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return nil
	}
	b.closed = true
	b.closeMu.Unlock()

	b.tasks.Wait()
	if b.ownsRaiser {
		b.raiser.Close()
	} else {
		b.raiser.Release(b.id)
	}
	b.logger.Debug("closed")
	return nil
}
