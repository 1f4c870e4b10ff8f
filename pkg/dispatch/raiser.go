package dispatch

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/bft-labs/mgrkit/pkg/log"
)

// Target is one listener invocation. Loop, when set, is the goroutine the
// listener is affine to.
type Target struct {
	Fn   func()
	Loop *Loop
}

// Raiser delivers targets according to a Mode. The zero value is not
// usable; create raisers with NewRaiser. A Raiser may be shared by many
// managers.
//
// Asynchronous emissions are ordered per queue key. Emissions raised under
// different keys do not wait for each other.
type Raiser struct {
	logger    log.Logger
	workers   int
	queueSize int

	mu     sync.Mutex
	pool   *pool
	queues map[string]*Loop
	closed bool

	// delivering counts listener calls in progress per goroutine id.
	delivering sync.Map
}

// RaiserOption configures a Raiser.
type RaiserOption func(*Raiser)

// WithWorkers sets the number of parallel fan-out workers.
// Default: runtime.NumCPU().
func WithWorkers(n int) RaiserOption {
	return func(r *Raiser) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithQueueSize sets how many parallel jobs may wait for a worker before
// extra goroutines are spawned. Default: 64.
func WithQueueSize(n int) RaiserOption {
	return func(r *Raiser) {
		if n >= 0 {
			r.queueSize = n
		}
	}
}

// WithLogger sets the logger used to report listener panics.
func WithLogger(l log.Logger) RaiserOption {
	return func(r *Raiser) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRaiser creates a Raiser. Worker goroutines and the asynchronous queue
// are started on first use.
func NewRaiser(opts ...RaiserOption) *Raiser {
	r := &Raiser{
		logger:    log.NewNoopLogger(),
		workers:   runtime.NumCPU(),
		queueSize: 64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Raise delivers targets. For blocking policies it returns once every
// target has run; for asynchronous policies it returns immediately.
// Asynchronous emissions go to the default queue.
func (r *Raiser) Raise(mode Mode, targets []Target) {
	r.RaiseOn("", mode, targets)
}

// RaiseOn is Raise with asynchronous emissions ordered on the queue named
// key. Managers raise on their own id.
func (r *Raiser) RaiseOn(key string, mode Mode, targets []Target) {
	if len(targets) == 0 {
		return
	}
	switch mode.Policy() {
	case PolicyInline:
		r.inline(targets)
	case PolicyBlockingMarshalled:
		r.marshalled(mode, targets)
	case PolicyAsyncInline:
		r.enqueue(key, func() { r.inline(targets) })
	case PolicyAsyncMarshalled:
		r.enqueue(key, func() { r.marshalled(mode, targets) })
	}
}

func (r *Raiser) inline(targets []Target) {
	for _, t := range targets {
		r.call(t.Fn)
	}
}

func (r *Raiser) marshalled(mode Mode, targets []Target) {
	var wg sync.WaitGroup
	for _, t := range targets {
		fn := t.Fn
		switch {
		case mode.UI && t.Loop != nil && t.Loop.OnLoop():
			r.call(fn)
		case mode.UI && t.Loop != nil:
			wg.Add(1)
			if err := t.Loop.Post(func() {
				defer wg.Done()
				r.call(fn)
			}); err != nil {
				r.logger.Warn("listener loop closed, running inline",
					log.String("loop", t.Loop.Name()))
				r.call(fn)
				wg.Done()
			}
		case mode.Parallel:
			wg.Add(1)
			r.submit(func() {
				defer wg.Done()
				r.call(fn)
			})
		default:
			r.call(fn)
		}
	}
	wg.Wait()
}

// enqueue hands an emission to the ordered queue for key. Once the raiser
// is closed, emissions are delivered on the caller instead.
func (r *Raiser) enqueue(key string, emission func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		emission()
		return
	}
	q, ok := r.queues[key]
	if !ok {
		if r.queues == nil {
			r.queues = make(map[string]*Loop)
		}
		name := "dispatch-async"
		if key != "" {
			name += "-" + key
		}
		q = NewLoop(name)
		r.queues[key] = q
	}
	r.mu.Unlock()

	if err := q.Post(emission); err != nil {
		emission()
	}
}

// Release drains and removes the queue for key. Later emissions under key
// start a new queue. Called from a listener it does not wait.
func (r *Raiser) Release(key string) {
	r.mu.Lock()
	q := r.queues[key]
	delete(r.queues, key)
	r.mu.Unlock()
	if q == nil {
		return
	}
	if r.inListener() {
		go q.Close()
		return
	}
	q.Close()
}

func (r *Raiser) submit(job func()) {
	r.mu.Lock()
	if r.pool == nil && !r.closed {
		r.pool = newPool(r.workers, r.queueSize)
	}
	p := r.pool
	r.mu.Unlock()

	if p == nil {
		go job()
		return
	}
	p.submit(job)
}

func (r *Raiser) call(fn func()) {
	id := goid()
	r.enter(id)
	defer func() {
		r.leave(id)
		if v := recover(); v != nil {
			r.logger.Error("listener panicked", log.Any("panic", v))
		}
	}()
	fn()
}

func (r *Raiser) enter(id uint64) {
	n, _ := r.delivering.LoadOrStore(id, new(atomic.Int32))
	n.(*atomic.Int32).Add(1)
}

func (r *Raiser) leave(id uint64) {
	if n, ok := r.delivering.Load(id); ok && n.(*atomic.Int32).Add(-1) == 0 {
		r.delivering.Delete(id)
	}
}

// inListener reports whether the caller is a listener being delivered by r.
func (r *Raiser) inListener() bool {
	_, ok := r.delivering.Load(goid())
	return ok
}

// Close waits for queued asynchronous emissions, then stops the workers.
// Called from a listener it returns at once and the draining continues in
// the background. Close is idempotent.
func (r *Raiser) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	queues := r.queues
	r.queues = nil
	r.mu.Unlock()

	r.mu.Lock()
	p := r.pool
	r.mu.Unlock()

	if r.inListener() {
		go drain(queues, p)
		return
	}
	drain(queues, p)
}

func drain(queues map[string]*Loop, p *pool) {
	for _, q := range queues {
		q.Close()
	}
	if p != nil {
		p.stop()
	}
}
