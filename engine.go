package testengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beevik/etree"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/drivers"
	"github.com/ethereum-optimism/infra/op-testengine/events"
	"github.com/ethereum-optimism/infra/op-testengine/logging"
	"github.com/ethereum-optimism/infra/op-testengine/metrics"
	"github.com/ethereum-optimism/infra/op-testengine/registry"
	"github.com/ethereum-optimism/infra/op-testengine/reporting"
	"github.com/ethereum-optimism/infra/op-testengine/runner"
	"github.com/ethereum-optimism/infra/op-testengine/service"
	"github.com/ethereum-optimism/infra/op-testengine/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// forcedStopGrace bounds how long a stop waits for drivers to exit after
// the run was cancelled
const forcedStopGrace = 10 * time.Second

// Engine implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = (*Engine)(nil)

// Engine runs the packages named by a manifest once, periodically or on
// every change, and reports each run to the console, the result file and
// the configured listeners.
type Engine struct {
	config    *Config
	version   string
	log       log.Logger
	registry  *registry.Registry
	drivers   drivers.Service
	scheduler TestScheduler
	listeners []events.Listener
	sink      *logging.EventFileSink
	out       io.Writer

	svc     *service.Service
	watcher *Watcher

	// runCtx carries the values of the Start context but not its
	// cancellation; runs are stopped through StopRun instead
	runCtx context.Context

	mu          sync.Mutex
	master      *runner.MasterRunner
	lastSummary *reporting.Summary
	pending     Change
	runDone     chan struct{}

	ready   atomic.Bool
	stopped atomic.Bool

	shutdownCallback func(error)
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Engine, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		config.Log = log.New()
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating test engine with config",
		"manifest", config.ManifestFile,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"watch", config.Watch,
		"explore", config.Explore,
		"filter", config.Filter.String())

	reg, err := registry.NewRegistry(registry.Config{
		Log:          config.Log,
		ManifestFile: config.ManifestFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	e := &Engine{
		config:   config,
		version:  version,
		log:      config.Log,
		registry: reg,
		drivers: drivers.NewDriverService(drivers.ServiceConfig{
			Log:      config.Log,
			GoBinary: config.GoBinary,
		}),
		scheduler:        NewDefaultTestScheduler(config.RunInterval, config.RunOnce, config.Log),
		out:              os.Stdout,
		runCtx:           context.WithoutCancel(ctx),
		shutdownCallback: shutdownCallback,
	}

	if config.EventLog != "" {
		sink, err := logging.NewEventFileSink(config.EventLog)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log: %w", err)
		}
		e.sink = sink
		e.listeners = append(e.listeners, sink)
	}
	if config.ShowProgress {
		e.listeners = append(e.listeners, reporting.NewProgressListener(os.Stderr))
	}

	e.svc = service.New(service.Config{
		HealthzAddr: config.HealthzAddr,
		MetricsAddr: config.MetricsAddr,
		Ready:       e.ready.Load,
		Log:         config.Log,
	})

	config.Log.Info("testengine.New: created registry and driver service", "manifest", reg.Name())
	return e, nil
}

// Start runs the tests once and then, unless in run-once mode, keeps
// running them at the configured interval or on changes. In run-once mode
// a failed run is returned as a TestFailureError.
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx = context.WithoutCancel(ctx)
	e.ready.Store(true)
	e.svc.Start(ctx)

	// cliapp cancels ctx on the first interrupt; a run started from Start
	// has to notice that itself
	started := make(chan struct{})
	defer close(started)
	go e.stopOnInterrupt(ctx, started)

	if e.config.Explore {
		if err := e.explore(); err != nil {
			return NewRuntimeError(err)
		}
		go e.shutdownCallback(nil)
		return nil
	}

	if e.config.Watch {
		if err := e.startWatcher(ctx); err != nil {
			return NewRuntimeError(err)
		}
	}

	e.scheduler.RegisterCallback(e.runTests)
	if err := e.scheduler.Start(ctx); err != nil {
		e.log.Error("Runtime error running tests", "error", err)
		if IsRuntimeError(err) {
			return err
		}
		return NewRuntimeError(err)
	}

	if e.config.RunOnce {
		e.log.Info("Tests completed, exiting (run-once mode)")
		if summary := e.LastSummary(); summary != nil && summary.Failed() {
			e.log.Warn("Run-once test run completed with failures, returning exit code 1")
			return NewTestFailureError(*summary)
		}
		go e.shutdownCallback(nil)
		return nil
	}

	e.log.Debug("op-testengine started successfully")
	return nil
}

func (e *Engine) stopOnInterrupt(ctx context.Context, started <-chan struct{}) {
	select {
	case <-started:
	case <-ctx.Done():
		e.stopRun(context.Background())
	}
}

// runTests performs one run: it applies pending changes, runs the tests and
// reports the result
func (e *Engine) runTests() error {
	if e.stopped.Load() {
		return nil
	}
	master, err := e.prepare()
	if err != nil {
		metrics.RecordErrorDetails("prepare_run", err)
		return NewRuntimeError(err)
	}

	done := e.beginRun()
	defer e.endRun(done)

	e.log.Info("Running tests", "filter", e.config.Filter.String())
	res, err := master.Run(e.runCtx, logging.NewLogListener(e.log), e.config.Filter)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to run tests: %w", err))
	}
	if _, err := e.report(res.Xml()); err != nil {
		return NewRuntimeError(err)
	}
	return nil
}

func (e *Engine) beginRun() chan struct{} {
	done := make(chan struct{})
	e.mu.Lock()
	e.runDone = done
	e.mu.Unlock()
	return done
}

func (e *Engine) endRun(done chan struct{}) {
	e.mu.Lock()
	if e.runDone == done {
		e.runDone = nil
	}
	e.mu.Unlock()
	close(done)
}

// prepare returns the master runner for the next run. A manifest change
// rebuilds it; package changes reload it.
func (e *Engine) prepare() (*runner.MasterRunner, error) {
	e.mu.Lock()
	change := e.pending
	e.pending = Change{}
	master := e.master
	e.mu.Unlock()

	if change.Manifest {
		if err := e.registry.Reload(); err != nil {
			e.log.Error("Manifest reload failed, keeping previous manifest", "err", err)
		} else if master != nil {
			if err := master.Dispose(); err != nil {
				e.log.Warn("Failed to dispose runners", "err", err)
			}
			master = nil
		}
		if e.watcher != nil {
			if dirs, err := e.registry.Directories(); err == nil {
				e.watcher.SetPackages(dirs)
			}
		}
	}

	if master == nil {
		var err error
		if master, err = e.buildMaster(); err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.master = master
		e.mu.Unlock()
		return master, nil
	}

	if len(change.Packages) > 0 {
		e.log.Info("Reloading packages", "changed", change.Packages)
		if _, err := master.Reload(e.runCtx); err != nil {
			return nil, fmt.Errorf("failed to reload packages: %w", err)
		}
	}
	return master, nil
}

// buildPackage builds the package tree from the manifest. Command line
// settings override the manifest at every level.
func (e *Engine) buildPackage() (*types.TestPackage, error) {
	pkg, err := e.registry.BuildPackage()
	if err != nil {
		return nil, fmt.Errorf("failed to build package tree: %w", err)
	}
	for key, value := range e.config.Overrides {
		pkg.AddSetting(key, value)
	}
	e.log.Debug("Built package tree",
		"packages", len(pkg.Leaves()),
		"max_agents", types.GetSetting(pkg, types.MaxAgents, 0))
	return pkg, nil
}

func (e *Engine) buildMaster() (*runner.MasterRunner, error) {
	pkg, err := e.buildPackage()
	if err != nil {
		return nil, err
	}
	return runner.NewMasterRunner(pkg,
		runner.WithDriverService(e.drivers),
		runner.WithLogger(e.log),
		runner.WithListeners(e.listeners...),
		runner.WithEngineInfo(e.version),
		runner.WithCommandLine(e.config.CommandLine),
	)
}

// explore writes the discovered tests to the result file
func (e *Engine) explore() error {
	master, err := e.prepare()
	if err != nil {
		return err
	}
	res, err := master.Explore(e.runCtx, e.config.Filter)
	if err != nil {
		return fmt.Errorf("failed to explore tests: %w", err)
	}
	tree := res.Xml()
	if tree == nil {
		return errors.New("explore returned no result tree")
	}
	if err := reporting.WriteResultFile(e.config.ResultFile, tree); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Found %d tests in %d packages, written to %s\n",
		len(tree.FindElements(".//"+types.ElementTestCase)),
		len(tree.FindElements(".//test-suite[@type='"+types.SuiteTypeAssembly+"']")),
		e.config.ResultFile)
	return nil
}

// report writes the result file and prints the run summary
func (e *Engine) report(run *etree.Element) (*reporting.Summary, error) {
	if run == nil {
		return nil, errors.New("run returned no result tree")
	}
	if err := reporting.WriteResultFile(e.config.ResultFile, run); err != nil {
		return nil, err
	}
	summary := reporting.Summarize(run)

	reporting.PrintResultsTable(e.out, e.registry.Name(), summary)
	fmt.Fprintln(e.out, reporting.StatusLine(summary))

	e.mu.Lock()
	e.lastSummary = &summary
	e.mu.Unlock()

	e.log.Info("Test run completed",
		"run_id", summary.RunID,
		"result", summary.Result,
		"passed", summary.Passed,
		"failed", summary.Counts.Failed,
		"result_file", e.config.ResultFile)
	return &summary, nil
}

func (e *Engine) startWatcher(ctx context.Context) error {
	dirs, err := e.registry.Directories()
	if err != nil {
		return fmt.Errorf("failed to list package directories: %w", err)
	}
	w, err := NewWatcher(e.log, e.registry.ManifestFile(), dirs, 0, e.onChange)
	if err != nil {
		return err
	}
	e.watcher = w
	w.Start(ctx)
	e.log.Info("Watching for changes", "manifest", e.registry.ManifestFile(), "packages", len(dirs))
	return nil
}

func (e *Engine) onChange(c Change) {
	e.mu.Lock()
	e.pending.Manifest = e.pending.Manifest || c.Manifest
	e.pending.Packages = append(e.pending.Packages, c.Packages...)
	e.mu.Unlock()
	if !e.scheduler.Trigger() {
		e.log.Debug("Change ignored, scheduler not running")
	}
}

// stopRun asks the current run to stop and waits for it. When ctx ends
// first the run is stopped forcibly.
func (e *Engine) stopRun(ctx context.Context) {
	e.mu.Lock()
	master, done := e.master, e.runDone
	e.mu.Unlock()
	if master == nil || done == nil {
		return
	}

	if err := master.StopRun(false); err != nil {
		e.log.Warn("Failed to request test run stop", "err", err)
	}
	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	if err := master.StopRun(true); err != nil {
		e.log.Warn("Failed to force test run stop", "err", err)
	}
	select {
	case <-done:
	case <-time.After(forcedStopGrace):
		e.log.Error("Test run did not exit after forced stop")
	}
}

// Stop stops scheduling, stops a run in progress and releases the runners.
// A run gets until ctx ends to stop cooperatively before it is cancelled.
func (e *Engine) Stop(ctx context.Context) error {
	if e.stopped.Swap(true) {
		return nil
	}
	e.log.Info("Stopping op-testengine")
	e.ready.Store(false)

	var result error
	if err := e.scheduler.Stop(); err != nil {
		result = errors.Join(result, fmt.Errorf("failed to stop scheduler: %w", err))
	}
	if e.watcher != nil {
		if err := e.watcher.Stop(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop watcher: %w", err))
		}
	}

	e.stopRun(ctx)

	waitCtx, cancel := context.WithTimeout(context.Background(), forcedStopGrace)
	defer cancel()
	if err := e.scheduler.WaitForShutdown(waitCtx); err != nil {
		result = errors.Join(result, err)
	}

	e.mu.Lock()
	master := e.master
	e.mu.Unlock()
	if master != nil {
		if err := master.Dispose(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to dispose runners: %w", err))
		}
	}
	if e.sink != nil {
		if err := e.sink.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close event log: %w", err))
		}
	}
	e.svc.Shutdown()

	e.log.Info("op-testengine stopped")
	return result
}

// Stopped implements the cliapp.Lifecycle interface.
func (e *Engine) Stopped() bool {
	return e.stopped.Load()
}

// LastSummary returns the summary of the last completed run, or nil
func (e *Engine) LastSummary() *reporting.Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSummary
}

// WaitForShutdown blocks until the scheduler goroutines have exited
func (e *Engine) WaitForShutdown(ctx context.Context) error {
	return e.scheduler.WaitForShutdown(ctx)
}
