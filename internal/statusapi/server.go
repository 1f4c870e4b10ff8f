package statusapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bft-labs/mgrkit/pkg/log"
	"github.com/bft-labs/mgrkit/pkg/manager"
)

var errNotListening = errors.New("statusapi: not listening")

// DefaultShutdownTimeout bounds graceful shutdown in Stop.
const DefaultShutdownTimeout = 5 * time.Second

// Server serves a handler as a manager: Start listens, Stop shuts the
// listener down gracefully.
type Server struct {
	*manager.Base

	addr    string
	handler http.Handler

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	served   chan error
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, opts ...manager.Option) *Server {
	s := &Server{addr: addr, handler: handler}
	s.Base = manager.NewBase(s, append([]manager.Option{manager.WithName("statusapi")}, opts...)...)
	return s
}

// Addr returns the bound address while listening.
func (s *Server) Addr() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return "", errNotListening
	}
	return s.listener.Addr().String(), nil
}

// Start binds the address and serves in the background.
func (s *Server) Start() (manager.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return s.State(), nil
	}
	s.SetState(manager.StateStarting)
	s.OnStart(manager.PhaseBefore)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.SetState(manager.StateFaulted)
		s.OnStart(manager.PhaseFailed, manager.WithErr(err))
		return s.State(), err
	}

	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener = ln
	s.served = make(chan error, 1)
	go func(srv *http.Server, served chan<- error) {
		served <- srv.Serve(ln)
	}(s.srv, s.served)

	s.Logger().Info("status api listening", log.String("addr", ln.Addr().String()))
	s.SetState(manager.StateStarted)
	s.OnStart(manager.PhaseAfter)
	return s.State(), nil
}

// Stop shuts the server down, waiting up to DefaultShutdownTimeout for
// in-flight requests.
func (s *Server) Stop() (manager.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return s.State(), nil
	}
	s.SetState(manager.StateStopping)
	s.OnStop(manager.PhaseBefore)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	if serveErr := <-s.served; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	s.srv = nil
	s.listener = nil
	s.served = nil

	if err != nil {
		s.SetState(manager.StateFaulted)
		s.OnStop(manager.PhaseFailed, manager.WithErr(err))
		return s.State(), err
	}
	s.SetState(manager.StateStopped)
	s.OnStop(manager.PhaseAfter)
	return s.State(), nil
}
