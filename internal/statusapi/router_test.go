package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/mgrkit/pkg/dispatch"
	"github.com/bft-labs/mgrkit/pkg/manager"
	"github.com/bft-labs/mgrkit/pkg/metrics"
	"github.com/bft-labs/mgrkit/pkg/supervisor"
)

type stub struct {
	*manager.Base

	mu       sync.Mutex
	startErr error
}

func newStub(name string) *stub {
	s := &stub{}
	s.Base = manager.NewBase(s, manager.WithName(name), manager.WithID(name+"-id"))
	return s
}

func (s *stub) Start() (manager.State, error) {
	s.mu.Lock()
	err := s.startErr
	s.mu.Unlock()
	if err != nil {
		s.SetState(manager.StateFaulted)
		return s.State(), err
	}
	s.SetState(manager.StateStarted)
	s.OnStart(manager.PhaseAfter)
	return s.State(), nil
}

func (s *stub) Stop() (manager.State, error) {
	s.SetState(manager.StateStopped)
	s.OnStop(manager.PhaseAfter)
	return s.State(), nil
}

func setup(t *testing.T, opts ...Option) (http.Handler, *stub, *stub) {
	t.Helper()
	g := supervisor.NewGroup()
	pump, fan := newStub("pump"), newStub("fan")
	t.Cleanup(func() {
		_ = pump.Close()
		_ = fan.Close()
	})
	if err := g.Add("pump", pump); err != nil {
		t.Fatal(err)
	}
	if err := g.Add("fan", fan); err != nil {
		t.Fatal(err)
	}
	return NewMux(g, opts...), pump, fan
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	h, _, _ := setup(t)
	w := do(h, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
}

func TestReadyz(t *testing.T) {
	h, pump, fan := setup(t)

	if w := do(h, http.MethodGet, "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("before start status=%d", w.Code)
	}
	if _, err := pump.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := fan.Start(); err != nil {
		t.Fatal(err)
	}
	if w := do(h, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("after start status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestListManagers(t *testing.T) {
	h, pump, _ := setup(t)
	pump.SetDispatchMode(dispatch.Mode{Parallel: true})

	w := do(h, http.MethodGet, "/managers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body struct {
		Managers []ManagerStatus `json:"managers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Managers) != 2 {
		t.Fatalf("managers len=%d", len(body.Managers))
	}
	if body.Managers[0].Name != "fan" || body.Managers[1].Name != "pump" {
		t.Errorf("order = %s, %s", body.Managers[0].Name, body.Managers[1].Name)
	}
	p := body.Managers[1]
	if p.ID != "pump-id" || p.State != "Uninitialized" || p.Dispatch != "async+parallel" || p.Policy != "async-marshalled" {
		t.Errorf("pump = %+v", p)
	}
}

func TestGetManager(t *testing.T) {
	h, _, _ := setup(t)

	w := do(h, http.MethodGet, "/managers/fan", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var st ManagerStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Name != "fan" || st.Dispatch != "sync" {
		t.Errorf("status = %+v", st)
	}

	w = do(h, http.MethodGet, "/managers/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown manager status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || er.Code != http.StatusNotFound {
		t.Errorf("error body = %s", w.Body.String())
	}
}

func TestStartStop(t *testing.T) {
	h, pump, _ := setup(t)

	w := do(h, http.MethodPost, "/managers/pump/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start status=%d body=%s", w.Code, w.Body.String())
	}
	var res OpResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.State != "Started" || res.Op != "start" {
		t.Errorf("start result = %+v", res)
	}
	if pump.ActiveStarts() != 0 {
		t.Errorf("ActiveStarts() = %d after request", pump.ActiveStarts())
	}

	w = do(h, http.MethodPost, "/managers/pump/stop", "")
	if w.Code != http.StatusOK || pump.State() != manager.StateStopped {
		t.Fatalf("stop status=%d state=%v", w.Code, pump.State())
	}
}

func TestStartError(t *testing.T) {
	h, pump, _ := setup(t)
	pump.mu.Lock()
	pump.startErr = errors.New("seized")
	pump.mu.Unlock()

	w := do(h, http.MethodPost, "/managers/pump/start", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d", w.Code)
	}
	var res OpResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Error != "seized" || res.State != "Faulted" {
		t.Errorf("result = %+v", res)
	}

	// The gate is released: a second request completes too.
	done := make(chan int, 1)
	go func() { done <- do(h, http.MethodPost, "/managers/pump/start", "").Code }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second start blocked")
	}
}

func TestSetDispatch(t *testing.T) {
	h, pump, _ := setup(t)

	w := do(h, http.MethodPut, "/managers/pump/dispatch", `{"mode":"sync+ui"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if pump.DispatchMode() != (dispatch.Mode{Sync: true, UI: true}) {
		t.Errorf("mode = %v", pump.DispatchMode())
	}

	if w := do(h, http.MethodPut, "/managers/pump/dispatch", `{"mode":"whenever"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad mode status=%d", w.Code)
	}
	if w := do(h, http.MethodPut, "/managers/pump/dispatch", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("bad json status=%d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPut, "/managers/pump/dispatch", strings.NewReader(`{"mode":"sync"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("missing content type status=%d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	h, pump, _ := setup(t, WithGatherer(reg))
	unwatch, err := c.Watch(pump)
	if err != nil {
		t.Fatal(err)
	}
	defer unwatch()

	if w := do(h, http.MethodPost, "/managers/pump/start", ""); w.Code != http.StatusOK {
		t.Fatalf("start status=%d", w.Code)
	}
	w := do(h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `mgrkit_manager_state{manager="pump"} 2`) {
		t.Errorf("state gauge missing:\n%s", body)
	}
	if !strings.Contains(body, "mgrkit_manager_events_total") {
		t.Errorf("events counter missing:\n%s", body)
	}
}

func TestMetricsNotRoutedWithoutGatherer(t *testing.T) {
	h, _, _ := setup(t)
	if w := do(h, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("status=%d, want 404", w.Code)
	}
}

type panicky struct {
	*manager.Base
}

func (p *panicky) Start() (manager.State, error) { panic("boom") }
func (p *panicky) Stop() (manager.State, error)  { return p.State(), nil }

func TestStartPanicReported(t *testing.T) {
	g := supervisor.NewGroup()
	p := &panicky{}
	p.Base = manager.NewBase(p, manager.WithName("bad"))
	defer p.Close()
	if err := g.Add("bad", p); err != nil {
		t.Fatal(err)
	}

	w := do(NewMux(g), http.MethodPost, "/managers/bad/start", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "panic: boom") {
		t.Errorf("body = %s", w.Body.String())
	}
	if p.ActiveStarts() != 0 {
		t.Errorf("ActiveStarts() = %d", p.ActiveStarts())
	}
}

func TestStartReturnsWhenClientGoesAway(t *testing.T) {
	h, pump, _ := setup(t)

	// An unended task from another owner holds the start gate.
	held := pump.BeginStart(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/managers/pump/start", nil).WithContext(ctx)
	served := make(chan struct{})
	go func() {
		h.ServeHTTP(httptest.NewRecorder(), req)
		close(served)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("handler blocked on the manager gate after the client left")
	}

	if _, err := pump.EndStart(held); err != nil {
		t.Fatalf("EndStart: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for pump.ActiveStarts() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := pump.ActiveStarts(); n != 0 {
		t.Errorf("ActiveStarts() = %d, abandoned request never ended its task", n)
	}
}
