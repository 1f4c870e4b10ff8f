package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bft-labs/mgrkit/pkg/manager"
)

type stub struct {
	*manager.Base
}

func newStub(name string) *stub {
	s := &stub{}
	s.Base = manager.NewBase(s, manager.WithName(name))
	return s
}

func (s *stub) Start() (manager.State, error) {
	s.SetState(manager.StateStarting)
	s.OnStart(manager.PhaseBefore)
	s.SetState(manager.StateStarted)
	s.OnStart(manager.PhaseAfter)
	return s.State(), nil
}

func (s *stub) Stop() (manager.State, error) {
	s.SetState(manager.StateStopped)
	s.OnStop(manager.PhaseAfter)
	return s.State(), nil
}

func TestCollector_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}

	m := newStub("pump")
	defer m.Close()
	unwatch, err := c.Watch(m)
	if err != nil {
		t.Fatal(err)
	}
	defer unwatch()

	if _, err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Stop(); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		stream, phase string
		want          float64
	}{
		{"start", "Before", 1},
		{"start", "After", 1},
		{"stop", "After", 1},
		{"stop", "Before", 0},
	}
	for _, tc := range cases {
		got := testutil.ToFloat64(c.events.WithLabelValues("pump", tc.stream, tc.phase))
		if got != tc.want {
			t.Errorf("events{%s,%s} = %v, want %v", tc.stream, tc.phase, got, tc.want)
		}
	}
}

func TestCollector_StateGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	m := newStub("pump")
	defer m.Close()
	unwatch, err := c.Watch(m)
	if err != nil {
		t.Fatal(err)
	}
	defer unwatch()

	if _, err := m.Start(); err != nil {
		t.Fatal(err)
	}

	want := `
# HELP mgrkit_manager_state Current lifecycle state (0 uninitialized, 1 starting, 2 started, 3 stopping, 4 stopped, 5 faulted)
# TYPE mgrkit_manager_state gauge
mgrkit_manager_state{manager="pump"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "mgrkit_manager_state"); err != nil {
		t.Error(err)
	}
	if n := testutil.CollectAndCount(c.events); n != 2 {
		t.Errorf("event series = %d, want 2", n)
	}
}

func TestCollector_AsyncGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	m := newStub("pump")
	defer m.Close()
	unwatch, err := c.Watch(m)
	if err != nil {
		t.Fatal(err)
	}
	defer unwatch()

	task := m.BeginStart(nil, nil)
	want := `
# HELP mgrkit_manager_async_active Asynchronous operations begun and not yet ended
# TYPE mgrkit_manager_async_active gauge
mgrkit_manager_async_active{manager="pump",op="start"} 1
mgrkit_manager_async_active{manager="pump",op="stop"} 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "mgrkit_manager_async_active"); err != nil {
		t.Error(err)
	}
	if _, err := m.EndStart(task); err != nil {
		t.Fatal(err)
	}
}

func TestCollector_WatchTwice(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	m := newStub("pump")
	defer m.Close()

	unwatch, err := c.Watch(m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Watch(m); !errors.Is(err, ErrAlreadyWatched) {
		t.Errorf("second Watch = %v, want ErrAlreadyWatched", err)
	}

	unwatch()
	unwatch()
	if m.EventStart().Len() != 0 || m.EventStop().Len() != 0 {
		t.Error("unwatch left listeners registered")
	}

	again, err := c.Watch(m)
	if err != nil {
		t.Fatalf("Watch after unwatch: %v", err)
	}
	again()
}

func TestNewCollector_DuplicateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewCollector(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCollector(reg); err == nil {
		t.Error("second collector on the same registry registered")
	}
}
