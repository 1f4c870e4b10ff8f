package dispatch

import "sync"

// pool is a fixed set of workers fed through a bounded queue. A job that
// finds the queue full runs on its own goroutine instead of waiting, so a
// listener that raises again from inside the pool cannot starve it.
type pool struct {
	queue   chan func()
	workers sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newPool(workers, queueSize int) *pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &pool{queue: make(chan func(), queueSize)}
	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.workers.Done()
	for job := range p.queue {
		job()
	}
}

func (p *pool) submit(job func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		go job()
		return
	}
	select {
	case p.queue <- job:
	default:
		go job()
	}
}

// stop closes the queue and waits for the workers to drain it.
func (p *pool) stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.workers.Wait()
}
