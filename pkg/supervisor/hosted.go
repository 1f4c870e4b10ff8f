package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/bft-labs/mgrkit/pkg/log"
	"github.com/bft-labs/mgrkit/pkg/manager"
)

// ErrUnexpectedState is returned when Start or Stop completes without error
// but leaves the manager in a state other than the requested one.
var ErrUnexpectedState = errors.New("supervisor: unexpected state")

// Hosted adapts a Manager to context-aware start and stop hooks.
type Hosted struct {
	m      manager.Manager
	logger log.Logger
}

// NewHosted wraps m. A nil logger is replaced with a no-op logger.
func NewHosted(m manager.Manager, logger log.Logger) *Hosted {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Hosted{m: m, logger: logger}
}

// Manager returns the wrapped manager.
func (h *Hosted) Manager() manager.Manager {
	return h.m
}

// StartContext runs Start on a background goroutine. If ctx ends first,
// StartContext returns ctx.Err() and Start keeps running.
func (h *Hosted) StartContext(ctx context.Context) error {
	return h.run(ctx, manager.OpStart, h.m.Start, manager.StateStarted)
}

// StopContext runs Stop on a background goroutine; see StartContext.
func (h *Hosted) StopContext(ctx context.Context) error {
	return h.run(ctx, manager.OpStop, h.m.Stop, manager.StateStopped)
}

type result struct {
	state manager.State
	err   error
}

func (h *Hosted) run(ctx context.Context, op manager.Op, fn func() (manager.State, error), want manager.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := make(chan result, 1)
	go func() {
		s, err := fn()
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		return h.check(op, r, want)
	case <-ctx.Done():
	}

	select {
	case r := <-ch:
		return h.check(op, r, want)
	default:
		h.logger.Warn("gave up waiting for manager",
			log.String("manager", h.m.Name()),
			log.String("op", op.String()),
			log.Err(ctx.Err()),
		)
		return ctx.Err()
	}
}

func (h *Hosted) check(op manager.Op, r result, want manager.State) error {
	if r.err != nil {
		return fmt.Errorf("%s %s: %w", op, h.m.Name(), r.err)
	}
	if r.state != want {
		return fmt.Errorf("%w: %s %s ended in %s", ErrUnexpectedState, op, h.m.Name(), r.state)
	}
	return nil
}
