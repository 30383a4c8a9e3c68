package service

import (
	"context"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// HealthzServer answers /healthz with OK while the engine is up, or with
// 503 when the readiness check fails
type HealthzServer struct {
	Ready func() bool

	httpServer
	log log.Logger
}

func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	return h.Serve(ctx, addr, nil)
}

// Serve is Start with an optional pre-bound listener
func (h *HealthzServer) Serve(ctx context.Context, addr string, ln net.Listener) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return h.serve(ctx, addr, c.Handler(hdlr), ln)
}

func (h *HealthzServer) Shutdown(ctx context.Context) error {
	return h.shutdown(ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	if h.log != nil {
		h.log.Trace("Received health check request", "path", r.URL.Path)
	}
	if h.Ready != nil && !h.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT READY")) //nolint:errcheck
		return
	}
	w.Write([]byte("OK")) //nolint:errcheck
}
