package testengine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// TestScheduler decides when test runs happen
type TestScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterCallback(func() error)
	Trigger() bool
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
}

// DefaultTestScheduler performs the first run inside Start. Unless it is in
// run-once mode it then keeps running in the background, every interval and
// whenever Trigger is called. Runs never overlap.
type DefaultTestScheduler struct {
	interval time.Duration
	runOnce  bool
	logger   log.Logger
	runTests func() error

	active   atomic.Bool
	pending  chan struct{}
	stop     chan struct{}
	loopDone chan struct{}
}

// NewDefaultTestScheduler creates a scheduler. An interval of zero disables
// periodic runs; triggered runs still happen unless runOnce is set.
func NewDefaultTestScheduler(interval time.Duration, runOnce bool, logger log.Logger) *DefaultTestScheduler {
	if logger == nil {
		logger = log.New()
	}
	return &DefaultTestScheduler{
		interval: interval,
		runOnce:  runOnce,
		logger:   logger.New("component", "scheduler"),
		pending:  make(chan struct{}, 1),
	}
}

// RegisterCallback sets the function performing one test run
func (s *DefaultTestScheduler) RegisterCallback(runTests func() error) {
	s.runTests = runTests
}

// Start performs the first run and returns its error
func (s *DefaultTestScheduler) Start(ctx context.Context) error {
	if s.runTests == nil {
		return errors.New("callback must be registered before starting scheduler")
	}
	s.stop = make(chan struct{})
	s.active.Store(true)

	if s.runOnce {
		s.logger.Info("Performing a single test run")
		return s.runTests()
	}

	s.logger.Info("Performing initial test run", "interval", s.interval)
	if err := s.runTests(); err != nil {
		return err
	}
	s.loopDone = make(chan struct{})
	go s.loop(ctx, s.stop, s.loopDone)
	return nil
}

func (s *DefaultTestScheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// a nil channel never fires, leaving only triggered runs
	var ticks <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-stop:
			s.logger.Debug("Scheduler loop stopped")
			return
		case <-ctx.Done():
			s.logger.Debug("Scheduler loop exiting", "reason", ctx.Err())
			s.active.Store(false)
			return
		case <-ticks:
			s.run("interval")
		case <-s.pending:
			s.run("trigger")
		}
	}
}

func (s *DefaultTestScheduler) run(reason string) {
	if !s.active.Load() {
		return
	}
	s.logger.Info("Starting scheduled test run", "reason", reason)
	if err := s.runTests(); err != nil {
		s.logger.Error("Scheduled test run failed", "reason", reason, "err", err)
	}
}

// Trigger requests a run as soon as the current one (if any) finishes.
// Requests made while one is already pending are merged. It returns false
// when the scheduler is not running or is in run-once mode.
func (s *DefaultTestScheduler) Trigger() bool {
	if s.runOnce || !s.active.Load() {
		return false
	}
	select {
	case s.pending <- struct{}{}:
	default:
	}
	return true
}

// Stop ends scheduling. A run in progress is not interrupted.
func (s *DefaultTestScheduler) Stop() error {
	if !s.active.Swap(false) {
		return nil
	}
	s.logger.Debug("Stopping scheduler")
	close(s.stop)
	return nil
}

func (s *DefaultTestScheduler) Stopped() bool {
	return !s.active.Load()
}

// WaitForShutdown blocks until the background loop has exited, including a
// run it had in progress
func (s *DefaultTestScheduler) WaitForShutdown(ctx context.Context) error {
	if s.loopDone == nil {
		return nil
	}
	select {
	case <-s.loopDone:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for scheduler loop to exit", "err", ctx.Err())
		return ctx.Err()
	}
}
