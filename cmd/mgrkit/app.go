package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/bft-labs/mgrkit/internal/cliconfig"
	"github.com/bft-labs/mgrkit/internal/statusapi"
	"github.com/bft-labs/mgrkit/managers/schedule"
	"github.com/bft-labs/mgrkit/managers/worker"
	"github.com/bft-labs/mgrkit/pkg/dispatch"
	"github.com/bft-labs/mgrkit/pkg/log"
	"github.com/bft-labs/mgrkit/pkg/manager"
	"github.com/bft-labs/mgrkit/pkg/metrics"
	"github.com/bft-labs/mgrkit/pkg/state"
	"github.com/bft-labs/mgrkit/pkg/supervisor"
	"github.com/bft-labs/mgrkit/plugins/configwatcher"
	"github.com/bft-labs/mgrkit/plugins/natsnotify"
)

// app is the set of managers one mgrkit process hosts.
type app struct {
	logger  log.Logger
	raiser  *dispatch.Raiser
	group   *supervisor.Group
	watcher *configwatcher.Watcher
	repo    state.Repository
	managed []*manager.Base
	cleanup []func()
}

func run(ctx context.Context, cfg cliconfig.Config, cfgFile string, zl zerolog.Logger) error {
	a, err := newApp(cfg, cfgFile, zl)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.loadPrevious(ctx); err != nil {
		return err
	}
	runErr := a.group.Run(ctx)
	a.save(context.WithoutCancel(ctx))
	if runErr != nil {
		return fmt.Errorf("run managers: %w", runErr)
	}
	a.logger.Info("stopped")
	return nil
}

func newApp(cfg cliconfig.Config, cfgFile string, zl zerolog.Logger) (_ *app, err error) {
	logger := log.NewZerologAdapterWithLogger(zl)
	a := &app{
		logger: logger,
		raiser: dispatch.NewRaiser(
			dispatch.WithWorkers(cfg.Workers),
			dispatch.WithQueueSize(cfg.QueueSize),
			dispatch.WithLogger(logger),
		),
		group: supervisor.NewGroup(
			supervisor.WithLogger(logger),
			supervisor.WithStopTimeout(cfg.StopTimeout),
		),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if cfg.StateDir != "" {
		a.repo = state.NewFileRepository(cfg.StateDir)
	}

	def, overrides, err := cfg.DispatchModes()
	if err != nil {
		return nil, err
	}
	opts := func(name string) []manager.Option {
		mode, ok := overrides[name]
		if !ok {
			mode = def
		}
		return []manager.Option{
			manager.WithName(name),
			manager.WithLogger(logger),
			manager.WithRaiser(a.raiser),
			manager.WithDispatchMode(mode),
		}
	}

	heartbeat := worker.New(a.beat, worker.Config{
		Interval:    cfg.HeartbeatInterval,
		StopTimeout: cfg.StopTimeout,
	}, opts("heartbeat")...)
	if err := a.add(heartbeat, heartbeat.Base); err != nil {
		return nil, err
	}

	if len(cfg.Jobs) > 0 {
		sched := schedule.New(cfg.StopTimeout, opts("schedule")...)
		for _, j := range cfg.Jobs {
			name := j.Name
			if err := sched.Add(name, j.Spec, func() {
				logger.Info("job fired", log.String("job", name))
			}); err != nil {
				return nil, err
			}
		}
		if err := a.add(sched, sched.Base); err != nil {
			return nil, err
		}
	}

	if cfg.Watch {
		if cfgFile == "" {
			return nil, errors.New("--watch requires a config file")
		}
		a.watcher = configwatcher.New(cfgFile, cliconfig.LoadModes, configwatcher.DefaultConfig(), opts("configwatcher")...)
		if err := a.add(a.watcher, a.watcher.Base); err != nil {
			return nil, err
		}
	}

	var reg *prometheus.Registry
	if cfg.HTTPAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		handler := statusapi.NewMux(a.group, statusapi.WithGatherer(reg), statusapi.WithLogger(logger))
		srv := statusapi.NewServer(cfg.HTTPAddr, handler, opts("statusapi")...)
		if err := a.add(srv, srv.Base); err != nil {
			return nil, err
		}
	}

	if a.watcher != nil {
		for _, m := range a.group.Managers() {
			a.watcher.Register(m)
		}
	}
	if reg != nil {
		if err := a.watchMetrics(reg); err != nil {
			return nil, err
		}
	}
	if cfg.NATSURL != "" {
		if err := a.notify(cfg); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) add(m manager.Manager, b *manager.Base) error {
	if err := a.group.Add(m.Name(), m); err != nil {
		return err
	}
	a.managed = append(a.managed, b)
	return nil
}

func (a *app) watchMetrics(reg prometheus.Registerer) error {
	c, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}
	for _, m := range a.group.Managers() {
		unwatch, err := c.Watch(m)
		if err != nil {
			return err
		}
		a.cleanup = append(a.cleanup, unwatch)
	}
	return nil
}

func (a *app) notify(cfg cliconfig.Config) error {
	host, _ := os.Hostname()
	nc, err := natsnotify.Connect(cfg.NATSURL, "mgrkit@"+host, a.logger)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	n := natsnotify.New(nc, natsnotify.WithPrefix(cfg.NATSPrefix), natsnotify.WithLogger(a.logger))
	for _, m := range a.group.Managers() {
		a.cleanup = append(a.cleanup, n.Attach(m))
	}
	a.cleanup = append(a.cleanup, func() {
		if err := nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			a.logger.Warn("nats drain failed", log.Err(err))
		}
	})
	return nil
}

// beat logs the state of every hosted manager and records the snapshot.
func (a *app) beat(ctx context.Context) error {
	states := a.group.States()
	fields := make([]log.Field, 0, len(states))
	for name, s := range states {
		fields = append(fields, log.String(name, s.String()))
	}
	a.logger.Debug("heartbeat", fields...)
	if a.repo == nil {
		return nil
	}
	return a.repo.Save(ctx, state.Capture(a.group.Managers(), time.Now()))
}

func (a *app) loadPrevious(ctx context.Context) error {
	if a.repo == nil {
		return nil
	}
	prev, err := a.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if prev.IsEmpty() {
		return nil
	}
	fields := []log.Field{log.Any("updated_at", prev.UpdatedAt)}
	if faulted := prev.Faulted(); len(faulted) > 0 {
		fields = append(fields, log.Any("faulted", faulted))
	}
	a.logger.Info("previous run", fields...)
	return nil
}

func (a *app) save(ctx context.Context) {
	if a.repo == nil {
		return
	}
	if err := a.repo.Save(ctx, state.Capture(a.group.Managers(), time.Now())); err != nil {
		a.logger.Warn("save state", log.Err(err))
	}
}

// close releases subscriptions, connections and dispatch resources in
// reverse order of acquisition.
func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	for i := len(a.managed) - 1; i >= 0; i-- {
		if err := a.managed[i].Close(); err != nil {
			a.logger.Warn("close manager", log.String("manager", a.managed[i].Name()), log.Err(err))
		}
	}
	a.raiser.Close()
}
