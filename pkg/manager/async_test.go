package manager

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBeginStart_NeverRunsStartConcurrently(t *testing.T) {
	f := newFake()
	defer f.Close()
	f.delay = 2 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := f.BeginStart(nil, nil)
			if _, err := f.EndStart(task); err != nil {
				t.Errorf("EndStart: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent Start = %d, want 1", got)
	}
	if got := f.starts.Load(); got != 16 {
		t.Errorf("Start calls = %d, want 16", got)
	}
	if got := f.ActiveStarts(); got != 0 {
		t.Errorf("ActiveStarts() = %d after drain, want 0", got)
	}
}

func TestBeginStart_BlocksUntilPreviousEnded(t *testing.T) {
	f := newFake()
	defer f.Close()

	first := f.BeginStart(nil, nil)
	<-first.Done()

	admitted := make(chan *Task)
	go func() {
		admitted <- f.BeginStart(nil, nil)
	}()

	select {
	case <-admitted:
		t.Fatal("second BeginStart admitted before first EndStart")
	case <-time.After(30 * time.Millisecond):
	}
	if got := f.ActiveStarts(); got != 2 {
		t.Errorf("ActiveStarts() = %d, want 2 (one admitted, one waiting)", got)
	}

	if _, err := f.EndStart(first); err != nil {
		t.Fatalf("EndStart(first): %v", err)
	}

	select {
	case second := <-admitted:
		if _, err := f.EndStart(second); err != nil {
			t.Errorf("EndStart(second): %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second BeginStart never admitted")
	}
}

func TestEndStart_Twice(t *testing.T) {
	f := newFake()
	defer f.Close()

	task := f.BeginStart(nil, nil)
	if _, err := f.EndStart(task); err != nil {
		t.Fatalf("first EndStart: %v", err)
	}
	_, err := f.EndStart(task)
	if !errors.Is(err, ErrNoOutstanding) {
		t.Errorf("second EndStart = %v, want ErrNoOutstanding", err)
	}
	if !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("second EndStart = %v, want ErrInvalidOperation category", err)
	}
}

func TestEndStart_WithoutBegin(t *testing.T) {
	f := newFake()
	defer f.Close()

	other := newFake()
	defer other.Close()
	foreign := other.BeginStart(nil, nil)
	defer other.EndStart(foreign)

	if _, err := f.EndStart(foreign); !errors.Is(err, ErrNoOutstanding) {
		t.Errorf("EndStart(foreign task) = %v, want ErrNoOutstanding", err)
	}
}

func TestEndStart_Nil(t *testing.T) {
	f := newFake()
	defer f.Close()

	_, err := f.EndStart(nil)
	if !errors.Is(err, ErrNilTask) || !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("EndStart(nil) = %v, want ErrNilTask", err)
	}
	if _, err := f.EndStop(nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("EndStop(nil) = %v, want ErrNilTask", err)
	}
}

func TestEndStart_RejectsStopTask(t *testing.T) {
	f := newFake()
	defer f.Close()

	stop := f.BeginStop(nil, nil)
	if _, err := f.EndStart(stop); !errors.Is(err, ErrNoOutstanding) {
		t.Errorf("EndStart(stop task) = %v, want ErrNoOutstanding", err)
	}
	// The rejected call must not have consumed the stop task.
	if _, err := f.EndStop(stop); err != nil {
		t.Errorf("EndStop after rejected EndStart: %v", err)
	}
}

func TestBeginStart_AfterDrainDoesNotDeadlock(t *testing.T) {
	f := newFake()
	defer f.Close()

	for i := 0; i < 3; i++ {
		done := make(chan error, 1)
		go func() {
			task := f.BeginStart(nil, nil)
			_, err := f.EndStart(task)
			done <- err
		}()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("round %d: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: BeginStart deadlocked after drain", i)
		}
		if got := f.ActiveStarts(); got != 0 {
			t.Fatalf("round %d: ActiveStarts() = %d, want 0", i, got)
		}
	}
}

func TestBeginEnd_MatchesSynchronousResult(t *testing.T) {
	direct := newFake()
	defer direct.Close()
	async := newFake()
	defer async.Close()

	wantState, wantErr := direct.Start()
	gotState, gotErr := async.EndStart(async.BeginStart(nil, nil))

	if gotState != wantState || gotErr != wantErr {
		t.Errorf("async = (%v, %v), sync = (%v, %v)", gotState, gotErr, wantState, wantErr)
	}
	if gotState != StateStarted {
		t.Errorf("state = %v, want Started", gotState)
	}
}

func TestEndStart_PropagatesStartError(t *testing.T) {
	f := newFake()
	defer f.Close()
	f.startErr = errBoom

	state, err := f.EndStart(f.BeginStart(nil, nil))
	if !errors.Is(err, errBoom) {
		t.Fatalf("EndStart err = %v, want errBoom", err)
	}
	if errors.Is(err, ErrInvalidOperation) || errors.Is(err, ErrInvalidArgument) {
		t.Errorf("subclass error wrapped into a protocol category: %v", err)
	}
	if state != StateFaulted {
		t.Errorf("state = %v, want Faulted", state)
	}

	// A failed start must not leave the gate closed.
	f.mu.Lock()
	f.startErr = nil
	f.mu.Unlock()
	if _, err := f.EndStart(f.BeginStart(nil, nil)); err != nil {
		t.Errorf("start after failure: %v", err)
	}
}

func TestEndStart_RepanicsAndReleasesGate(t *testing.T) {
	f := newFake()
	defer f.Close()
	f.panicMsg = "start exploded"

	task := f.BeginStart(nil, nil)
	func() {
		defer func() {
			if v := recover(); v != "start exploded" {
				t.Errorf("recovered %v, want start exploded", v)
			}
		}()
		_, _ = f.EndStart(task)
		t.Error("EndStart did not re-panic")
	}()

	if got := f.ActiveStarts(); got != 0 {
		t.Errorf("ActiveStarts() = %d after panic, want 0", got)
	}

	f.mu.Lock()
	f.panicMsg = ""
	f.mu.Unlock()
	done := make(chan struct{})
	go func() {
		_, _ = f.EndStart(f.BeginStart(nil, nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("gate stuck closed after panic")
	}
}

func TestBeginStart_CallbackAndAsyncState(t *testing.T) {
	f := newFake()
	defer f.Close()

	type result struct {
		state State
		err   error
		token any
	}
	got := make(chan result, 1)
	f.BeginStart(func(task *Task) {
		if !task.IsCompleted() {
			t.Error("callback ran before completion")
		}
		s, err := f.EndStart(task)
		got <- result{s, err, task.AsyncState()}
	}, "token")

	select {
	case r := <-got:
		if r.err != nil || r.state != StateStarted || r.token != "token" {
			t.Errorf("callback result = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestStartAndStopAreNotMutuallyExclusive(t *testing.T) {
	f := newFake()
	defer f.Close()

	start := f.BeginStart(nil, nil)
	<-start.Done()

	// An outstanding start must not hold back a stop.
	done := make(chan struct{})
	go func() {
		_, _ = f.EndStop(f.BeginStop(nil, nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BeginStop blocked by an outstanding start")
	}
	if _, err := f.EndStart(start); err != nil {
		t.Errorf("EndStart: %v", err)
	}
}

func TestTask_Op(t *testing.T) {
	f := newFake()
	defer f.Close()

	start := f.BeginStart(nil, nil)
	stop := f.BeginStop(nil, nil)
	if start.Op() != OpStart || stop.Op() != OpStop {
		t.Errorf("ops = %v/%v", start.Op(), stop.Op())
	}
	_, _ = f.EndStart(start)
	_, _ = f.EndStop(stop)
}

func TestBegin_AfterClose(t *testing.T) {
	f := newFake()
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	called := false
	task := f.BeginStart(func(*Task) { called = true }, nil)
	if !called {
		t.Error("callback not invoked for closed manager")
	}
	if _, err := f.EndStart(task); !errors.Is(err, ErrClosed) {
		t.Errorf("EndStart after Close = %v, want ErrClosed", err)
	}
	if _, err := f.EndStart(task); !errors.Is(err, ErrNoOutstanding) {
		t.Errorf("second EndStart after Close = %v, want ErrNoOutstanding", err)
	}
	if f.starts.Load() != 0 {
		t.Error("Start ran on a closed manager")
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestClose_WaitsForRunningTasks(t *testing.T) {
	f := newFake()
	f.delay = 30 * time.Millisecond

	task := f.BeginStart(nil, nil)
	_ = f.Close()
	if !task.IsCompleted() {
		t.Error("Close returned while a start was still running")
	}
	if _, err := f.EndStart(task); err != nil {
		t.Errorf("EndStart after Close: %v", err)
	}
}
