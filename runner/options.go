package runner

import (
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/drivers"
	"github.com/ethereum-optimism/infra/op-testengine/events"
)

// Option configures a MasterRunner
type Option func(*MasterRunner)

// WithDriverService sets the service that selects a driver for each leaf.
// It is required.
func WithDriverService(service drivers.Service) Option {
	return func(m *MasterRunner) {
		m.service = service
	}
}

// WithAnalyzer replaces the package analyzer applied before the runner tree
// is built
func WithAnalyzer(analyzer PackageAnalyzer) Option {
	return func(m *MasterRunner) {
		m.analyzer = analyzer
	}
}

func WithLogger(logger log.Logger) Option {
	return func(m *MasterRunner) {
		m.log = logger
	}
}

// WithListeners attaches listeners that receive the events of every run in
// addition to the listener passed to Run
func WithListeners(listeners ...events.Listener) Option {
	return func(m *MasterRunner) {
		m.listeners = append(m.listeners, listeners...)
	}
}

// WithEngineInfo sets the engine version reported in start-run events
func WithEngineInfo(version string) Option {
	return func(m *MasterRunner) {
		m.engineVersion = version
	}
}

// WithCommandLine sets the command line recorded in run results
func WithCommandLine(commandLine string) Option {
	return func(m *MasterRunner) {
		m.commandLine = commandLine
	}
}

// WithClock overrides time.Now for run timing
func WithClock(now func() time.Time) Option {
	return func(m *MasterRunner) {
		m.now = now
	}
}
