package service

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the default prometheus registry on /metrics
type MetricsServer struct {
	httpServer
}

func (m *MetricsServer) Start(ctx context.Context, addr string) error {
	return m.Serve(ctx, addr, nil)
}

func (m *MetricsServer) Serve(ctx context.Context, addr string, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return m.serve(ctx, addr, mux, ln)
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.shutdown(ctx)
}
