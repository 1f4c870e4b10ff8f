package manager

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeManager is a minimal concrete manager used across the tests.
type fakeManager struct {
	*Base

	mu       sync.Mutex
	startErr error
	stopErr  error
	delay    time.Duration
	panicMsg string

	starts   atomic.Int32
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func newFake(opts ...Option) *fakeManager {
	f := &fakeManager{}
	f.Base = NewBase(f, opts...)
	return f
}

func (f *fakeManager) enter() {
	n := f.inflight.Add(1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
}

func (f *fakeManager) Start() (State, error) {
	f.enter()
	defer f.inflight.Add(-1)
	f.starts.Add(1)

	f.mu.Lock()
	delay, err, msg := f.delay, f.startErr, f.panicMsg
	f.mu.Unlock()

	f.SetState(StateStarting)
	f.OnStart(PhaseBefore)
	if delay > 0 {
		time.Sleep(delay)
	}
	if msg != "" {
		panic(msg)
	}
	if err != nil {
		f.SetState(StateFaulted)
		f.OnStart(PhaseFailed, WithErr(err))
		return f.State(), err
	}
	f.SetState(StateStarted)
	f.OnStart(PhaseAfter)
	return f.State(), nil
}

func (f *fakeManager) Stop() (State, error) {
	f.mu.Lock()
	err := f.stopErr
	f.mu.Unlock()

	f.SetState(StateStopping)
	f.OnStop(PhaseBefore)
	if err != nil {
		return f.State(), err
	}
	f.SetState(StateStopped)
	f.OnStop(PhaseAfter)
	return f.State(), nil
}

var errBoom = errors.New("boom")

// recorder collects notifications.
type recorder struct {
	mu     sync.Mutex
	events []EventArgs
	sender []Manager
}

func (r *recorder) listen(sender Manager, e EventArgs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	r.sender = append(r.sender, sender)
}

func (r *recorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, len(r.events))
	for i, e := range r.events {
		out[i] = e.Phase()
	}
	return out
}

func (r *recorder) count(p Phase) int {
	n := 0
	for _, got := range r.phases() {
		if got == p {
			n++
		}
	}
	return n
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
