package manager

import (
	"sync"
	"sync/atomic"

	"github.com/bft-labs/mgrkit/pkg/log"
)

// Op identifies the direction of an asynchronous operation.
type Op int

const (
	OpStart Op = iota
	OpStop
)

// String returns a human-readable representation of the operation.
func (o Op) String() string {
	switch o {
	case OpStart:
		return "start"
	case OpStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Task is the completion handle of one asynchronous start or stop. It is
// consumed by exactly one call to the matching End method.
type Task struct {
	owner      *Base
	op         Op
	asyncState any
	callback   Callback
	done       chan struct{}

	// Written before done is closed.
	state    State
	err      error
	panicked bool
	panicVal any

	// detached tasks never went through the gate.
	detached bool
	consumed atomic.Bool
}

func newTask(owner *Base, op Op, cb Callback, asyncState any) *Task {
	return &Task{
		owner:      owner,
		op:         op,
		asyncState: asyncState,
		callback:   cb,
		done:       make(chan struct{}),
	}
}

// Op returns the operation direction.
func (t *Task) Op() Op {
	return t.op
}

// AsyncState returns the value passed to Begin.
func (t *Task) AsyncState() any {
	return t.asyncState
}

// Done is closed once the operation has completed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// IsCompleted reports whether the operation has completed.
func (t *Task) IsCompleted() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Task) run(fn func() (State, error)) {
	func() {
		defer func() {
			if v := recover(); v != nil {
				t.panicked = true
				t.panicVal = v
			}
		}()
		t.state, t.err = fn()
	}()
	t.complete()
}

func (t *Task) fail(s State, err error) {
	t.state = s
	t.err = err
	t.complete()
}

func (t *Task) complete() {
	close(t.done)
	if t.callback != nil {
		t.callback(t)
	}
}

// direction holds the admission bookkeeping of one operation kind. The
// gate is a capacity-one channel: a Begin call puts a token in it (and
// waits while it is full), the matching End takes it back out.
type direction struct {
	op     Op
	gate   chan struct{}
	active atomic.Int32

	mu      sync.Mutex
	pending *Task
}

func newDirection(op Op) direction {
	return direction{op: op, gate: make(chan struct{}, 1)}
}

// BeginStart runs Start on a new goroutine. It blocks until every
// previously begun asynchronous start has been ended.
func (b *Base) BeginStart(cb Callback, asyncState any) *Task {
	return b.begin(&b.starts, b.impl.Start, cb, asyncState)
}

// EndStart waits for t and returns the result of Start. It returns
// ErrNilTask for a nil task and ErrNoOutstanding when t is not the
// outstanding start. An error returned by Start is returned unchanged; a
// panic in Start is re-raised here.
func (b *Base) EndStart(t *Task) (State, error) {
	return b.end(&b.starts, t)
}

// BeginStop runs Stop on a new goroutine. It blocks until every previously
// begun asynchronous stop has been ended.
func (b *Base) BeginStop(cb Callback, asyncState any) *Task {
	return b.begin(&b.stops, b.impl.Stop, cb, asyncState)
}

// EndStop waits for t and returns the result of Stop; see EndStart.
func (b *Base) EndStop(t *Task) (State, error) {
	return b.end(&b.stops, t)
}

func (b *Base) begin(d *direction, fn func() (State, error), cb Callback, asyncState any) *Task {
	t := newTask(b, d.op, cb, asyncState)

	d.active.Add(1)
	d.gate <- struct{}{}

	b.closeMu.RLock()
	if b.closed {
		b.closeMu.RUnlock()
		<-d.gate
		d.active.Add(-1)
		t.detached = true
		t.fail(b.State(), ErrClosed)
		return t
	}
	b.tasks.Add(1)
	b.closeMu.RUnlock()

	d.mu.Lock()
	d.pending = t
	d.mu.Unlock()

	b.logger.Debug("async begin",
		log.String("op", d.op.String()),
		log.Int("active", int(d.active.Load())),
	)

	go func() {
		defer b.tasks.Done()
		t.run(fn)
	}()
	return t
}

func (b *Base) end(d *direction, t *Task) (State, error) {
	if t == nil {
		return b.State(), ErrNilTask
	}

	if t.detached {
		if t.owner != b || t.op != d.op || !t.consumed.CompareAndSwap(false, true) {
			return b.State(), ErrNoOutstanding
		}
		<-t.done
		return t.state, t.err
	}

	d.mu.Lock()
	if d.pending == nil || d.pending != t {
		d.mu.Unlock()
		return b.State(), ErrNoOutstanding
	}
	d.pending = nil
	d.mu.Unlock()

	defer func() {
		<-d.gate
		remaining := d.active.Add(-1)
		b.logger.Debug("async end",
			log.String("op", d.op.String()),
			log.Int("active", int(remaining)),
		)
	}()

	<-t.done
	if t.panicked {
		panic(t.panicVal)
	}
	return t.state, t.err
}
