// Package schedule provides a manager that runs jobs on cron schedules.
package schedule

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bft-labs/mgrkit/pkg/log"
	"github.com/bft-labs/mgrkit/pkg/manager"
)

// Schedule errors.
var (
	ErrDuplicateJob = errors.New("schedule: duplicate job")
	ErrStopTimeout  = errors.New("schedule: stop timeout")
)

// DefaultStopTimeout bounds how long Stop waits for running jobs.
const DefaultStopTimeout = 30 * time.Second

// Job is one scheduled entry as reported by Jobs.
type Job struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// Manager owns a cron scheduler. Jobs run only while the manager is
// started; a job still running when its next activation arrives is
// skipped.
type Manager struct {
	*manager.Base

	mu          sync.Mutex
	cron        *cron.Cron
	jobs        map[string]cron.EntryID
	specs       map[string]string
	running     bool
	stopTimeout time.Duration
}

// New creates a schedule manager. Specs accept an optional leading seconds
// field and the @every / @hourly style descriptors.
func New(stopTimeout time.Duration, opts ...manager.Option) *Manager {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	s := &Manager{
		jobs:        make(map[string]cron.EntryID),
		specs:       make(map[string]string),
		stopTimeout: stopTimeout,
	}
	s.Base = manager.NewBase(s, append([]manager.Option{manager.WithName("schedule")}, opts...)...)

	logger := cronLogger{s.Logger()}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return s
}

// Add registers fn under name to run on spec.
func (s *Manager) Add(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("schedule: job %s: %w", name, err)
	}
	s.jobs[name] = id
	s.specs[name] = spec
	s.Logger().Debug("job added", log.String("job", name), log.String("spec", spec))
	return nil
}

// Remove unregisters the job added under name. It reports whether the job
// existed.
func (s *Manager) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.jobs, name)
	delete(s.specs, name)
	return true
}

// Jobs returns the registered jobs and their activation times. Next is
// zero until the manager has been started.
func (s *Manager) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[cron.EntryID]cron.Entry)
	for _, e := range s.cron.Entries() {
		byID[e.ID] = e
	}
	out := make([]Job, 0, len(s.jobs))
	for name, id := range s.jobs {
		e := byID[id]
		out = append(out, Job{Name: name, Spec: s.specs[name], Next: e.Next, Prev: e.Prev})
	}
	return out
}

// Start starts the scheduler. Calling Start on a started manager is a
// no-op.
func (s *Manager) Start() (manager.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.State(), nil
	}
	s.SetState(manager.StateStarting)
	s.OnStart(manager.PhaseBefore)

	s.cron.Start()
	s.running = true

	s.Logger().Info("scheduler started", log.Int("jobs", len(s.jobs)))
	s.SetState(manager.StateStarted)
	s.OnStart(manager.PhaseAfter)
	return s.State(), nil
}

// Stop stops the scheduler and waits for running jobs to complete. If
// they do not complete within the stop timeout the manager is left
// Faulted.
func (s *Manager) Stop() (manager.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return s.State(), nil
	}
	s.SetState(manager.StateStopping)
	s.OnStop(manager.PhaseBefore)

	ctx := s.cron.Stop()
	s.running = false

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		s.Logger().Warn("jobs still running after stop", log.Duration("timeout", s.stopTimeout))
		s.SetState(manager.StateFaulted)
		s.OnStop(manager.PhaseFailed, manager.WithErr(ErrStopTimeout))
		return s.State(), ErrStopTimeout
	}

	s.Logger().Info("scheduler stopped")
	s.SetState(manager.StateStopped)
	s.OnStop(manager.PhaseAfter)
	return s.State(), nil
}

// cronLogger routes cron's logging through log.Logger. Cron reports
// every activation at info level, so those go to debug here.
type cronLogger struct {
	l log.Logger
}

var _ cron.Logger = cronLogger{}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, fields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(fields(keysAndValues), log.Err(err))...)
}

func fields(kv []interface{}) []log.Field {
	out := make([]log.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		out = append(out, log.Any(key, kv[i+1]))
	}
	return out
}
