// Package worker provides a manager that runs a function periodically on
// its own goroutine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/mgrkit/pkg/log"
	"github.com/bft-labs/mgrkit/pkg/manager"
)

// Worker errors.
var (
	ErrNoFunc      = errors.New("worker: no function")
	ErrStopTimeout = errors.New("worker: stop timeout")
)

// Func is one unit of work. It should return promptly once ctx is done.
type Func func(ctx context.Context) error

// Config controls the run loop.
type Config struct {
	// Interval between successful runs.
	Interval time.Duration
	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout time.Duration
	// BackoffInitial and BackoffMax bound the delay after a failed run.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// DefaultConfig returns the default run loop configuration.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Second,
		StopTimeout:    10 * time.Second,
		BackoffInitial: 500 * time.Millisecond,
		BackoffMax:     10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = d.BackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	return c
}

// Manager runs a Func every Config.Interval between Start and Stop.
//
// Start and Stop are serialized against each other. Listeners subscribed
// with the synchronous dispatch mode must not call Start or Stop.
type Manager struct {
	*manager.Base

	fn  Func
	cfg Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	runs     atomic.Int64
	failures atomic.Int64
	lastErr  atomic.Pointer[error]
}

// New creates a worker manager around fn.
func New(fn Func, cfg Config, opts ...manager.Option) *Manager {
	w := &Manager{fn: fn, cfg: cfg.withDefaults()}
	w.Base = manager.NewBase(w, append([]manager.Option{manager.WithName("worker")}, opts...)...)
	return w
}

// Start launches the run loop. Calling Start on a started worker is a
// no-op.
func (w *Manager) Start() (manager.State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return w.State(), nil
	}

	w.SetState(manager.StateStarting)
	w.OnStart(manager.PhaseBefore)

	if w.fn == nil {
		w.SetState(manager.StateFaulted)
		w.OnStart(manager.PhaseFailed, manager.WithErr(ErrNoFunc))
		return w.State(), ErrNoFunc
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)

	w.Logger().Info("worker started", log.Duration("interval", w.cfg.Interval))
	w.SetState(manager.StateStarted)
	w.OnStart(manager.PhaseAfter)
	return w.State(), nil
}

// Stop cancels the run loop and waits up to Config.StopTimeout for it to
// exit. On timeout the worker is left Faulted. Calling Stop on a worker
// that is not running is a no-op.
func (w *Manager) Stop() (manager.State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return w.State(), nil
	}

	w.SetState(manager.StateStopping)
	w.OnStop(manager.PhaseBefore)

	w.cancel()
	done := w.done
	w.cancel = nil
	w.done = nil

	if err := waitWithTimeout(done, w.cfg.StopTimeout); err != nil {
		w.Logger().Warn("worker did not stop in time", log.Duration("timeout", w.cfg.StopTimeout))
		w.SetState(manager.StateFaulted)
		w.OnStop(manager.PhaseFailed, manager.WithErr(err))
		return w.State(), err
	}

	w.Logger().Info("worker stopped",
		log.Int64("runs", w.runs.Load()),
		log.Int64("failures", w.failures.Load()),
	)
	w.SetState(manager.StateStopped)
	w.OnStop(manager.PhaseAfter)
	return w.State(), nil
}

// Runs returns the number of completed runs, failed ones included.
func (w *Manager) Runs() int64 {
	return w.runs.Load()
}

// Failures returns the number of failed runs.
func (w *Manager) Failures() int64 {
	return w.failures.Load()
}

// LastError returns the error of the most recent failed run.
func (w *Manager) LastError() error {
	if p := w.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (w *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	backoff := NewBackoff(w.cfg.BackoffInitial, w.cfg.BackoffMax)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		err := w.runOnce(ctx)
		w.runs.Add(1)
		if err == nil {
			backoff.Reset()
			timer.Reset(w.cfg.Interval)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		w.failures.Add(1)
		w.lastErr.Store(&err)
		delay := backoff.Next()
		w.Logger().Warn("run failed",
			log.Err(err),
			log.Duration("retry_in", delay),
		)
		timer.Reset(delay)
	}
}

func (w *Manager) runOnce(ctx context.Context) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("worker: panic: %v", v)
		}
	}()
	return w.fn(ctx)
}

func waitWithTimeout(done <-chan struct{}, timeout time.Duration) error {
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}
