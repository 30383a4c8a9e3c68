package service

import (
	"context"
	"net"
	"net/http"
	"sync"
)

// httpServer serializes server creation against Shutdown, so a Shutdown
// that wins the race with Serve still stops the server
type httpServer struct {
	mu     sync.Mutex
	server *http.Server
	closed bool
}

func (s *httpServer) serve(ctx context.Context, addr string, handler http.Handler, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	srv := &http.Server{
		Handler:     handler,
		Addr:        addr,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.server = srv
	s.mu.Unlock()

	if ln != nil {
		return srv.Serve(ln)
	}
	return srv.ListenAndServe()
}

func (s *httpServer) shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
