// Package statusapi exposes manager state over HTTP.
package statusapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/mgrkit/pkg/dispatch"
	"github.com/bft-labs/mgrkit/pkg/log"
	"github.com/bft-labs/mgrkit/pkg/manager"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 16

// Registry resolves managers by name. *supervisor.Group satisfies it.
type Registry interface {
	Names() []string
	Get(name string) (manager.Manager, bool)
}

// activeCounter is implemented by managers built on manager.Base.
type activeCounter interface {
	ActiveStarts() int
	ActiveStops() int
}

// ManagerStatus is the JSON view of one manager.
type ManagerStatus struct {
	Name         string `json:"name"`
	ID           string `json:"id"`
	State        string `json:"state"`
	Dispatch     string `json:"dispatch"`
	Policy       string `json:"policy"`
	ActiveStarts int    `json:"active_starts"`
	ActiveStops  int    `json:"active_stops"`
}

// OpResult is the response of a start or stop request.
type OpResult struct {
	Name  string `json:"name"`
	Op    string `json:"op"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// DispatchRequest is the body of PUT /managers/{name}/dispatch.
type DispatchRequest struct {
	Mode string `json:"mode"`
}

type options struct {
	gatherer prometheus.Gatherer
	logger   log.Logger
}

// Option configures the router.
type Option func(*options)

// WithGatherer serves /metrics from g. Without it /metrics is not routed.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *options) { o.gatherer = g }
}

// WithLogger sets the request logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewMux returns the HTTP handler for reg.
func NewMux(reg Registry, opts ...Option) http.Handler {
	o := options{logger: log.NewNoopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	h := &handlers{reg: reg, logger: o.logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Route("/managers", func(r chi.Router) {
		r.Get("/", h.list)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/start", h.op(manager.OpStart))
			r.Post("/stop", h.op(manager.OpStop))
			r.Put("/dispatch", h.setDispatch)
		})
	})
	if o.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type handlers struct {
	reg    Registry
	logger log.Logger
}

func (h *handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			log.String("method", r.Method),
			log.String("path", r.URL.Path),
			log.Int("status", ww.Status()),
			log.Duration("duration", time.Since(start)),
			log.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports 200 when every manager is started.
func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	notReady := map[string]string{}
	for _, name := range h.reg.Names() {
		m, ok := h.reg.Get(name)
		if !ok {
			continue
		}
		if s := m.State(); s != manager.StateStarted {
			notReady[name] = s.String()
		}
	}
	if len(notReady) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "managers": notReady})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	names := h.reg.Names()
	out := make([]ManagerStatus, 0, len(names))
	for _, name := range names {
		if m, ok := h.reg.Get(name); ok {
			out = append(out, status(name, m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"managers": out})
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	name, m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, status(name, m))
}

func (h *handlers) op(op manager.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, m, ok := h.lookup(w, r)
		if !ok {
			return
		}

		begin, end := m.BeginStart, m.EndStart
		if op == manager.OpStop {
			begin, end = m.BeginStop, m.EndStop
		}

		// Begin may wait for the gate, so it runs off the request goroutine.
		// The task is always ended, even when the client goes away, so the
		// manager's gate is released.
		done := make(chan OpResult, 1)
		go begin(func(t *manager.Task) {
			res := OpResult{Name: name, Op: op.String()}
			defer func() {
				if v := recover(); v != nil {
					res.State = m.State().String()
					res.Error = fmt.Sprint("panic: ", v)
				}
				done <- res
			}()
			s, err := end(t)
			res.State = s.String()
			if err != nil {
				res.Error = err.Error()
			}
		}, nil)

		select {
		case res := <-done:
			code := http.StatusOK
			if res.Error != "" {
				code = http.StatusConflict
				h.logger.Warn("manager operation failed",
					log.String("manager", name),
					log.String("op", op.String()),
					log.String("error", res.Error),
				)
			}
			writeJSON(w, code, res)
		case <-r.Context().Done():
			h.logger.Debug("client gone before manager operation finished",
				log.String("manager", name),
				log.String("op", op.String()),
			)
		}
	}
}

func (h *handlers) setDispatch(w http.ResponseWriter, r *http.Request) {
	name, m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode, err := dispatch.ParseMode(req.Mode)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	m.SetDispatchMode(mode)
	h.logger.Info("dispatch mode changed", log.String("manager", name), log.String("mode", mode.String()))
	writeJSON(w, http.StatusOK, status(name, m))
}

func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) (string, manager.Manager, bool) {
	name := chi.URLParam(r, "name")
	m, ok := h.reg.Get(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown manager: "+name)
		return "", nil, false
	}
	return name, m, true
}

func status(name string, m manager.Manager) ManagerStatus {
	mode := m.DispatchMode()
	st := ManagerStatus{
		Name:     name,
		ID:       m.ID(),
		State:    m.State().String(),
		Dispatch: mode.String(),
		Policy:   mode.Policy().String(),
	}
	if ac, ok := m.(activeCounter); ok {
		st.ActiveStarts = ac.ActiveStarts()
		st.ActiveStops = ac.ActiveStops()
	}
	return st
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg, Code: code})
}
