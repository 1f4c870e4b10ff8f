// Package metrics exports manager state and notification counts to
// Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/mgrkit/pkg/manager"
)

// ErrAlreadyWatched is returned when a manager name is watched twice.
var ErrAlreadyWatched = errors.New("metrics: manager already watched")

// asyncCounter is implemented by managers built on manager.Base.
type asyncCounter interface {
	ActiveStarts() int
	ActiveStops() int
}

// Collector owns the manager metrics of one registry.
type Collector struct {
	reg    prometheus.Registerer
	events *prometheus.CounterVec

	mu      sync.Mutex
	watched map[string]struct{}
}

// NewCollector registers the collector's metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		reg: reg,
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mgrkit",
				Subsystem: "manager",
				Name:      "events_total",
				Help:      "Start and stop notifications raised, by phase",
			},
			[]string{"manager", "stream", "phase"},
		),
		watched: make(map[string]struct{}),
	}
	if err := reg.Register(c.events); err != nil {
		return nil, fmt.Errorf("metrics: register events: %w", err)
	}
	return c, nil
}

// Watch exports m's state and counts its notifications until the returned
// function is called. Managers are identified by Name.
func (c *Collector) Watch(m manager.Manager) (unwatch func(), err error) {
	name := m.Name()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watched[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyWatched, name)
	}

	labels := prometheus.Labels{"manager": name}
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "mgrkit",
			Subsystem:   "manager",
			Name:        "state",
			Help:        "Current lifecycle state (0 uninitialized, 1 starting, 2 started, 3 stopping, 4 stopped, 5 faulted)",
			ConstLabels: labels,
		}, func() float64 { return float64(m.State()) }),
	}
	if ac, ok := m.(asyncCounter); ok {
		gauges = append(gauges,
			asyncGauge(name, manager.OpStart, ac.ActiveStarts),
			asyncGauge(name, manager.OpStop, ac.ActiveStops),
		)
	}

	for i, g := range gauges {
		if err := c.reg.Register(g); err != nil {
			for _, done := range gauges[:i] {
				c.reg.Unregister(done)
			}
			return nil, fmt.Errorf("metrics: register %s: %w", name, err)
		}
	}

	startSub := m.EventStart().Subscribe(c.count(name, "start"))
	stopSub := m.EventStop().Subscribe(c.count(name, "stop"))
	c.watched[name] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.EventStart().Unsubscribe(startSub)
			m.EventStop().Unsubscribe(stopSub)
			for _, g := range gauges {
				c.reg.Unregister(g)
			}
			c.events.DeletePartialMatch(labels)

			c.mu.Lock()
			delete(c.watched, name)
			c.mu.Unlock()
		})
	}, nil
}

func (c *Collector) count(name, stream string) manager.Listener {
	return func(_ manager.Manager, e manager.EventArgs) {
		c.events.WithLabelValues(name, stream, e.Phase().String()).Inc()
	}
}

func asyncGauge(name string, op manager.Op, fn func() int) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "mgrkit",
		Subsystem:   "manager",
		Name:        "async_active",
		Help:        "Asynchronous operations begun and not yet ended",
		ConstLabels: prometheus.Labels{"manager": name, "op": op.String()},
	}, func() float64 { return float64(fn()) })
}
