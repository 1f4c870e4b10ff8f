package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/mgrkit/pkg/log"
	"github.com/bft-labs/mgrkit/pkg/manager"
)

// DefaultStopTimeout bounds the stop phase of Run and the rollback of a
// failed Start.
const DefaultStopTimeout = 30 * time.Second

// Group errors.
var (
	ErrDuplicateName = errors.New("supervisor: duplicate manager name")
	ErrEmptyName     = errors.New("supervisor: empty manager name")
)

// Option configures a Group.
type Option func(*Group)

// WithLogger sets the logger. If not provided, a no-op logger is used.
func WithLogger(l log.Logger) Option {
	return func(g *Group) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithStopTimeout sets the time Run and a Start rollback allow for stopping.
// Default: DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(g *Group) {
		if d > 0 {
			g.stopTimeout = d
		}
	}
}

type member struct {
	name   string
	hosted *Hosted
}

// Group is an ordered set of named managers.
type Group struct {
	mu          sync.Mutex
	members     []member
	logger      log.Logger
	stopTimeout time.Duration
}

// NewGroup creates an empty group.
func NewGroup(opts ...Option) *Group {
	g := &Group{
		logger:      log.NewNoopLogger(),
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Add appends m under name. An empty name falls back to m.Name().
func (g *Group) Add(name string, m manager.Manager) error {
	if name == "" {
		name = m.Name()
	}
	if name == "" {
		return ErrEmptyName
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, mb := range g.members {
		if mb.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
	}
	g.members = append(g.members, member{name: name, hosted: NewHosted(m, g.logger)})
	return nil
}

// Get returns the manager registered under name.
func (g *Group) Get(name string) (manager.Manager, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, mb := range g.members {
		if mb.name == name {
			return mb.hosted.Manager(), true
		}
	}
	return nil, false
}

// Names returns the registered names in start order.
func (g *Group) Names() []string {
	members := g.snapshot()
	names := make([]string, len(members))
	for i, mb := range members {
		names[i] = mb.name
	}
	return names
}

// Managers returns the registered managers in start order.
func (g *Group) Managers() []manager.Manager {
	members := g.snapshot()
	out := make([]manager.Manager, len(members))
	for i, mb := range members {
		out[i] = mb.hosted.Manager()
	}
	return out
}

// States returns the current state of every manager keyed by name.
func (g *Group) States() map[string]manager.State {
	members := g.snapshot()
	out := make(map[string]manager.State, len(members))
	for _, mb := range members {
		out[mb.name] = mb.hosted.Manager().State()
	}
	return out
}

func (g *Group) snapshot() []member {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]member(nil), g.members...)
}

// Start starts every manager in registration order. When one fails, the
// managers already started are stopped in reverse order and the start
// error is returned.
func (g *Group) Start(ctx context.Context) error {
	members := g.snapshot()
	for i, mb := range members {
		g.logger.Info("starting manager", log.String("manager", mb.name))
		err := mb.hosted.StartContext(ctx)
		if err == nil {
			continue
		}

		g.logger.Error("start failed, rolling back",
			log.String("manager", mb.name),
			log.Err(err),
		)
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.stopTimeout)
		rollback := stopAll(stopCtx, members[:i], g.logger)
		cancel()
		return errors.Join(err, rollback)
	}
	return nil
}

// Stop stops every manager in reverse registration order. Managers that
// never started are skipped. All stop errors are returned joined.
func (g *Group) Stop(ctx context.Context) error {
	return stopAll(ctx, g.snapshot(), g.logger)
}

func stopAll(ctx context.Context, members []member, logger log.Logger) error {
	var errs []error
	for i := len(members) - 1; i >= 0; i-- {
		mb := members[i]
		switch mb.hosted.Manager().State() {
		case manager.StateUninitialized, manager.StateStopped:
			continue
		}
		logger.Info("stopping manager", log.String("manager", mb.name))
		if err := mb.hosted.StopContext(ctx); err != nil {
			logger.Error("stop failed", log.String("manager", mb.name), log.Err(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run starts the group, waits for ctx to be done, then stops the group
// within the stop timeout.
func (g *Group) Run(ctx context.Context) error {
	if err := g.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	g.logger.Info("shutting down", log.Duration("timeout", g.stopTimeout))
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.stopTimeout)
	defer cancel()
	return g.Stop(stopCtx)
}
