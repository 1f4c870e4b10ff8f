package dispatch

import (
	"bytes"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrLoopClosed is returned when posting to a closed Loop.
var ErrLoopClosed = errors.New("dispatch: loop closed")

// Loop executes posted functions one at a time, in order, on a single
// goroutine. It plays the role of a UI thread: listeners bound to a Loop
// always observe events from the same goroutine.
//
// Code running on the loop goroutine may call Invoke (fn runs inline) and
// Close (queued work still runs after the current function returns).
type Loop struct {
	name string
	done chan struct{}
	gid  atomic.Uint64

	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
}

// NewLoop starts a loop goroutine.
func NewLoop(name string) *Loop {
	l := &Loop{
		name: name,
		done: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.name
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) OnLoop() bool {
	id := l.gid.Load()
	return id != 0 && id == goid()
}

func (l *Loop) run() {
	defer close(l.done)
	l.gid.Store(goid())

	l.mu.Lock()
	for {
		for len(l.items) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.items) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.items[0]
		l.items[0] = nil
		l.items = l.items[1:]
		l.mu.Unlock()

		fn()

		l.mu.Lock()
	}
}

// Post queues fn and returns without waiting for it.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLoopClosed
	}
	l.items = append(l.items, fn)
	l.cond.Signal()
	return nil
}

// Invoke queues fn and waits until it has run. Called on the loop
// goroutine it runs fn directly.
func (l *Loop) Invoke(fn func()) error {
	if l.OnLoop() {
		fn()
		return nil
	}
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	<-finished
	return nil
}

// Pending returns the number of queued functions not yet started.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Close stops accepting work, runs what is already queued and waits for
// the loop goroutine to exit. Called on the loop goroutine it returns
// without waiting. Close is idempotent.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	if l.OnLoop() {
		return
	}
	<-l.done
}

// goid returns the id of the calling goroutine, parsed from the
// "goroutine N [...]" header of its stack trace.
func goid() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
