package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-testengine/drivers"
	"github.com/ethereum-optimism/infra/op-testengine/events"
	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/metrics"
	"github.com/ethereum-optimism/infra/op-testengine/results"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// State is the lifecycle state of a MasterRunner
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateRunning
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateRunning:
		return "running"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PackageAnalyzer records per-leaf facts as package settings before any
// driver is selected
type PackageAnalyzer interface {
	ApplyImageSettings(pkg *types.TestPackage)
}

// activeRun is the bookkeeping of one Run call
type activeRun struct {
	id         string
	dispatcher *events.Dispatcher
	tracker    *events.WorkItemTracker
	wasLoaded  bool
	forced     bool
}

// MasterRunner is the runner callers use. It analyzes the package tree and
// builds the runner tree on first use, then owns the lifecycle of every run:
// the start-run event, timing, failure containment and the terminal
// test-run event.
type MasterRunner struct {
	pkg           *types.TestPackage
	service       drivers.Service
	analyzer      PackageAnalyzer
	log           log.Logger
	listeners     []events.Listener
	engineVersion string
	commandLine   string
	now           func() time.Time
	tracer        trace.Tracer

	mu       sync.Mutex
	state    State
	analyzed bool
	tree     *AggregatingRunner
	current  *activeRun
}

// NewMasterRunner validates its arguments; this is the only place the
// master runner reports an argument error.
func NewMasterRunner(pkg *types.TestPackage, opts ...Option) (*MasterRunner, error) {
	if pkg == nil {
		return nil, errors.New("test package is required")
	}
	m := &MasterRunner{
		pkg:    pkg,
		log:    log.New(),
		now:    time.Now,
		tracer: otel.Tracer("test engine"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.service == nil {
		return nil, errors.New("driver service is required")
	}
	if m.log == nil {
		m.log = log.New()
	}
	m.log = m.log.New("component", "master-runner", "package_id", pkg.ID())
	if m.analyzer == nil {
		m.analyzer = drivers.NewPackageAnalyzer(m.log)
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// State returns the current lifecycle state
func (m *MasterRunner) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MasterRunner) IsTestRunning() bool {
	return m.State() == StateRunning
}

// ensureTree must be called with m.mu held
func (m *MasterRunner) ensureTree() *AggregatingRunner {
	if !m.analyzed {
		m.analyzer.ApplyImageSettings(m.pkg)
		m.analyzed = true
	}
	if m.tree == nil {
		m.tree = BuildRunnerTree(m.pkg, m.service, m.log)
		m.log.Debug("Built runner tree",
			"subordinates", len(m.tree.Subordinates()),
			"parallelism", m.tree.LevelOfParallelism())
	}
	return m.tree
}

// acquire checks the state guards shared by every operation and returns
// the runner tree
func (m *MasterRunner) acquire() (*AggregatingRunner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateDisposed:
		return nil, ErrDisposed
	case StateRunning:
		return nil, ErrRunInProgress
	}
	return m.ensureTree(), nil
}

func (m *MasterRunner) setLoaded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateUnloaded {
		m.state = StateLoaded
	}
}

// Load loads every leaf and returns the structure as one test-run tree
func (m *MasterRunner) Load(ctx context.Context) (*results.EngineResult, error) {
	tree, err := m.acquire()
	if err != nil {
		return nil, err
	}
	res, err := tree.Load(ctx)
	if err != nil {
		return nil, err
	}
	m.setLoaded()
	return m.wrap(res), nil
}

func (m *MasterRunner) Reload(ctx context.Context) (*results.EngineResult, error) {
	tree, err := m.acquire()
	if err != nil {
		return nil, err
	}
	res, err := tree.Reload(ctx)
	if err != nil {
		return nil, err
	}
	m.setLoaded()
	return m.wrap(res), nil
}

func (m *MasterRunner) Unload(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateDisposed:
		m.mu.Unlock()
		return ErrDisposed
	case StateRunning:
		m.mu.Unlock()
		return ErrRunInProgress
	}
	tree := m.tree
	m.state = StateUnloaded
	m.mu.Unlock()

	if tree == nil {
		return nil
	}
	return tree.Unload(ctx)
}

// Explore returns the selected tests without running them
func (m *MasterRunner) Explore(ctx context.Context, f filter.TestFilter) (*results.EngineResult, error) {
	tree, err := m.acquire()
	if err != nil {
		return nil, err
	}
	res, err := tree.Explore(ctx, f)
	if err != nil {
		return nil, err
	}
	m.setLoaded()
	return m.wrap(res), nil
}

func (m *MasterRunner) CountTestCases(ctx context.Context, f filter.TestFilter) (int, error) {
	tree, err := m.acquire()
	if err != nil {
		return 0, err
	}
	return tree.CountTestCases(ctx, f)
}

func (m *MasterRunner) wrap(res *results.EngineResult) *results.EngineResult {
	return results.FromElements(m.testRun(res.Fragments()))
}

func (m *MasterRunner) testRun(children []*etree.Element) *etree.Element {
	return results.Aggregate(types.ElementTestRun, "", m.pkg.ID(), m.pkg.Name(), m.pkg.FullName(), children)
}

// Run executes the tests selected by f and blocks until the run completes.
// Failures inside the run are reported in the returned tree; an error is
// returned only when the runner is disposed or already running.
func (m *MasterRunner) Run(ctx context.Context, listener events.Listener, f filter.TestFilter) (*results.EngineResult, error) {
	run, tree, err := m.startRun(listener)
	if err != nil {
		return nil, err
	}
	return m.execute(ctx, run, tree, f), nil
}

// RunAsync starts the run in the background. The state checks of Run are
// applied before it returns.
func (m *MasterRunner) RunAsync(ctx context.Context, listener events.Listener, f filter.TestFilter) (*RunHandle, error) {
	run, tree, err := m.startRun(listener)
	if err != nil {
		return nil, err
	}
	h := newRunHandle(run.id)
	go func() {
		h.complete(m.execute(ctx, run, tree, f))
	}()
	return h, nil
}

func (m *MasterRunner) startRun(listener events.Listener) (*activeRun, *AggregatingRunner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateDisposed:
		return nil, nil, ErrDisposed
	case StateRunning:
		return nil, nil, ErrRunInProgress
	}
	tree := m.ensureTree()

	tracker := events.NewWorkItemTracker()
	listeners := append([]events.Listener{tracker, listener}, m.listeners...)
	run := &activeRun{
		id:         uuid.New().String(),
		tracker:    tracker,
		dispatcher: events.NewDispatcher(m.log, listeners...),
		wasLoaded:  m.state == StateLoaded,
	}
	m.current = run
	m.state = StateRunning
	return run, tree, nil
}

func (m *MasterRunner) execute(ctx context.Context, run *activeRun, tree *AggregatingRunner, f filter.TestFilter) *results.EngineResult {
	ctx, span := m.tracer.Start(ctx, "test run")
	span.SetAttributes(attribute.String("run.id", run.id))
	defer span.End()

	metrics.RecordRunStarted()
	logger := m.log.New("run_id", run.id)
	start := m.now()
	logger.Info("Starting test run", "filter", f.String())

	result := m.runTree(ctx, logger, run, tree, f, start)
	end := m.now()
	results.StampTimes(result, start, end)
	results.InsertRunInfo(result, m.commandLine, f.Element())

	m.mu.Lock()
	forced := run.forced
	if m.current == run {
		if m.state == StateRunning {
			m.state = StateLoaded
		}
		if types.GetSetting(m.pkg, types.DisposeRunners, false) {
			// subordinates were disposed after the run; rebuild on next use
			m.tree = nil
		}
	}
	m.mu.Unlock()

	if forced {
		result.CreateAttr(types.AttrResult, string(types.ResultFailed))
		result.CreateAttr(types.AttrLabel, types.LabelCancelled)
	}

	// after a forced stop the terminal event was already sent
	run.dispatcher.Terminate(results.ElementString(result))

	status := types.ResultState(result.SelectAttrValue(types.AttrResult, string(types.ResultInconclusive)))
	passed := results.IntAttr(result, types.AttrPassed)
	failed := results.IntAttr(result, types.AttrFailed)
	skipped := results.IntAttr(result, types.AttrSkipped)
	metrics.RecordRun(run.id, status, passed, failed, skipped, end.Sub(start))
	span.SetAttributes(attribute.String("result", string(status)))

	logger.Info("Finished test run",
		"result", status,
		"label", result.SelectAttrValue(types.AttrLabel, ""),
		"passed", passed,
		"failed", failed,
		"skipped", skipped,
		"duration", end.Sub(start))
	return results.FromElements(result)
}

// runTree loads if needed, announces the run and runs the tree. A failure
// escaping the tree becomes a Failed/Error test-run plus an
// unhandled-exception event.
func (m *MasterRunner) runTree(ctx context.Context, logger log.Logger, run *activeRun, tree *AggregatingRunner, f filter.TestFilter, start time.Time) (result *etree.Element) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Test run panicked", "panic", p)
			result = m.unhandled(run, fmt.Sprintf("%v", p), string(debug.Stack()))
		}
	}()

	if !run.wasLoaded {
		if _, err := tree.Load(ctx); err != nil {
			logger.Error("Implicit load failed", "err", err)
			return m.unhandled(run, err.Error(), "")
		}
	}

	count, err := tree.CountTestCases(ctx, f)
	if err != nil {
		logger.Warn("Failed to count test cases", "err", err)
	}
	run.dispatcher.OnTestEvent(results.ElementString(
		results.StartRunEvent(count, start, m.engineVersion, runtime.Version(), run.id)))

	res, err := tree.Run(ctx, run.dispatcher, f)
	if err != nil {
		logger.Error("Test run failed", "err", err)
		return m.unhandled(run, err.Error(), "")
	}
	return m.testRun(res.Fragments())
}

func (m *MasterRunner) unhandled(run *activeRun, message, stack string) *etree.Element {
	run.dispatcher.OnTestEvent(results.ElementString(results.UnhandledExceptionEvent(message, stack)))
	return results.ErrorRun(m.pkg, message, stack)
}

// StopRun stops the current run. A cooperative stop asks every driver to
// stop and returns. A forced stop kills the drivers, reports every started
// suite as cancelled, marks the run finished and sends the terminal
// cancelled test-run event, so listeners converge even if a driver never
// reports again.
func (m *MasterRunner) StopRun(force bool) error {
	m.mu.Lock()
	run, tree, running := m.current, m.tree, m.state == StateRunning
	m.mu.Unlock()
	if !running || run == nil || tree == nil {
		return nil
	}

	if !force {
		m.log.Info("Requesting test run stop", "run_id", run.id)
		return tree.RequestStop()
	}

	m.log.Warn("Forcing test run stop", "run_id", run.id)
	err := tree.ForcedStop()
	cancelled := run.tracker.SendPendingCompletions(run.dispatcher)

	m.mu.Lock()
	run.forced = true
	if m.current == run && m.state == StateRunning {
		m.state = StateLoaded
	}
	m.mu.Unlock()

	run.dispatcher.Terminate(results.ElementString(results.CancelledRunEvent(m.pkg.ID())))
	metrics.RecordForcedStop()
	m.log.Info("Test run cancelled", "run_id", run.id, "cancelled_suites", cancelled)
	return err
}

// Dispose stops any run in progress and disposes the runner tree. The
// runner is unusable afterwards.
func (m *MasterRunner) Dispose() error {
	if m.IsTestRunning() {
		if err := m.StopRun(true); err != nil {
			m.log.Warn("Failed to stop run during dispose", "err", err)
		}
	}

	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateDisposed
	tree := m.tree
	m.tree = nil
	m.mu.Unlock()

	if tree == nil {
		return nil
	}
	return tree.Dispose()
}
