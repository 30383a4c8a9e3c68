package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/metrics"
)

// Config selects which servers run. An empty address disables a server.
type Config struct {
	HealthzAddr string
	MetricsAddr string
	Ready       func() bool
	Log         log.Logger
}

// Service runs the health check and metrics servers next to the engine
type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer

	cfg Config
	log log.Logger
	wg  sync.WaitGroup
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	logger := cfg.Log.New("component", "service")
	return &Service{
		Healthz: &HealthzServer{Ready: cfg.Ready, log: logger},
		Metrics: &MetricsServer{},
		cfg:     cfg,
		log:     logger,
	}
}

// Start launches the enabled servers in the background
func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	if addr := s.cfg.HealthzAddr; addr != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.log.Info("starting healthz server", "addr", addr)
			if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting healthz server", "err", err)
				metrics.RecordErrorDetails("healthz_server", err)
			}
		}()
	}

	if addr := s.cfg.MetricsAddr; addr != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.log.Info("starting metrics server", "addr", addr)
			if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("metrics_server", err)
			}
		}()
	}

	s.log.Info("service started")
}

// Shutdown stops both servers and waits for them to exit
func (s *Service) Shutdown() {
	s.log.Info("service shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = s.Healthz.Shutdown(ctx)
	s.log.Info("healthz stopped")

	_ = s.Metrics.Shutdown(ctx)
	s.log.Info("metrics stopped")

	s.wg.Wait()
	s.log.Info("service stopped")
}
