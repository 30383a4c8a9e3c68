package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-testengine/events"
	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/metrics"
	"github.com/ethereum-optimism/infra/op-testengine/results"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

var _ Runner = (*AggregatingRunner)(nil)

// Subordinate pairs a leaf package with the runner that executes it
type Subordinate struct {
	Package *types.TestPackage
	Runner  Runner
}

// AggregatingRunner runs one subordinate per leaf package and returns their
// fragments in declaration order, whatever order they complete in.
type AggregatingRunner struct {
	pkg    *types.TestPackage
	log    log.Logger
	tracer trace.Tracer

	mu           sync.Mutex
	subordinates []Subordinate
	disposed     bool
	// stopping is set by RequestStop and ForcedStop; subordinates that have
	// not started when it is set are never started
	stopping  bool
	cancelRun context.CancelFunc
}

func NewAggregatingRunner(pkg *types.TestPackage, subordinates []Subordinate, logger log.Logger) *AggregatingRunner {
	if logger == nil {
		logger = log.New()
	}
	return &AggregatingRunner{
		pkg:          pkg,
		log:          logger.New("component", "aggregating-runner", "package_id", pkg.ID()),
		tracer:       otel.Tracer("test engine"),
		subordinates: append([]Subordinate(nil), subordinates...),
	}
}

// LevelOfParallelism is min(MaxAgents, subordinates) when MaxAgents is
// positive, otherwise the number of subordinates. At most one means the
// subordinates run sequentially.
func (r *AggregatingRunner) LevelOfParallelism() int {
	r.mu.Lock()
	n := len(r.subordinates)
	r.mu.Unlock()
	if maxAgents := types.GetSetting(r.pkg, types.MaxAgents, 0); maxAgents > 0 {
		return min(maxAgents, n)
	}
	return n
}

// Subordinates returns a snapshot of the subordinate list
func (r *AggregatingRunner) Subordinates() []Subordinate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Subordinate(nil), r.subordinates...)
}

func (r *AggregatingRunner) snapshot() ([]Subordinate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return nil, ErrRunnersDisposed
	}
	return append([]Subordinate(nil), r.subordinates...), nil
}

func (r *AggregatingRunner) Load(ctx context.Context) (*results.EngineResult, error) {
	return r.collect(ctx, "load", func(s Subordinate) (*results.EngineResult, error) {
		return s.Runner.Load(ctx)
	})
}

func (r *AggregatingRunner) Reload(ctx context.Context) (*results.EngineResult, error) {
	return r.collect(ctx, "reload", func(s Subordinate) (*results.EngineResult, error) {
		return s.Runner.Reload(ctx)
	})
}

func (r *AggregatingRunner) Explore(ctx context.Context, f filter.TestFilter) (*results.EngineResult, error) {
	return r.collect(ctx, "explore", func(s Subordinate) (*results.EngineResult, error) {
		return s.Runner.Explore(ctx, f)
	})
}

// collect calls fn on each subordinate in order. A failing subordinate
// contributes an invalid fragment in its slot.
func (r *AggregatingRunner) collect(ctx context.Context, op string, fn func(Subordinate) (*results.EngineResult, error)) (*results.EngineResult, error) {
	subs, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	parts := make([]*results.EngineResult, len(subs))
	for i, s := range subs {
		res, err := fn(s)
		if err != nil {
			r.log.Warn("Subordinate failed", "op", op, "package", s.Package.FullName(), "err", err)
			res = results.FromElements(results.InvalidFragment(s.Package, err.Error()))
		}
		parts[i] = res
	}
	return results.Merge(parts...), nil
}

func (r *AggregatingRunner) Unload(ctx context.Context) error {
	subs, err := r.snapshot()
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range subs {
		if err := s.Runner.Unload(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unload %s: %w", s.Package.FullName(), err))
		}
	}
	if len(errs) > 0 {
		return &types.UnloadError{Errs: errs}
	}
	return nil
}

// CountTestCases sums the subordinate counts; a subordinate that cannot
// count contributes zero
func (r *AggregatingRunner) CountTestCases(ctx context.Context, f filter.TestFilter) (int, error) {
	subs, err := r.snapshot()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, s := range subs {
		n, err := s.Runner.CountTestCases(ctx, f)
		if err != nil {
			r.log.Warn("Failed to count test cases", "package", s.Package.FullName(), "err", err)
			continue
		}
		total += n
	}
	return total, nil
}

// Run executes every subordinate, in parallel when the level of parallelism
// allows it. A subordinate error or panic is contained as an error fragment
// in that subordinate's slot.
func (r *AggregatingRunner) Run(ctx context.Context, listener events.Listener, f filter.TestFilter) (*results.EngineResult, error) {
	subs, err := r.snapshot()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := r.beginRun(ctx)
	defer r.endRun(cancel)

	dop := r.LevelOfParallelism()
	parts := make([]*results.EngineResult, len(subs))
	if dop <= 1 {
		r.log.Debug("Running subordinates sequentially", "count", len(subs))
		for i, s := range subs {
			parts[i] = r.startSubordinate(runCtx, s, listener, f)
		}
	} else {
		r.log.Debug("Running subordinates in parallel", "count", len(subs), "parallelism", dop)
		var g errgroup.Group
		g.SetLimit(dop)
		for i, s := range subs {
			g.Go(func() error {
				parts[i] = r.startSubordinate(runCtx, s, listener, f)
				return nil
			})
		}
		_ = g.Wait()
	}

	if types.GetSetting(r.pkg, types.DisposeRunners, false) {
		r.disposeSubordinates()
	}
	return results.Merge(parts...), nil
}

func (r *AggregatingRunner) beginRun(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.stopping = false
	r.cancelRun = cancel
	r.mu.Unlock()
	return runCtx, cancel
}

func (r *AggregatingRunner) endRun(cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	r.cancelRun = nil
	r.mu.Unlock()
}

func (r *AggregatingRunner) stopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

// startSubordinate runs s unless a stop was requested before its turn came,
// in which case s reports Failed/Cancelled without being started
func (r *AggregatingRunner) startSubordinate(ctx context.Context, s Subordinate, listener events.Listener, f filter.TestFilter) *results.EngineResult {
	if r.stopRequested() {
		r.log.Debug("Not starting subordinate, run is stopping", "package", s.Package.FullName())
		metrics.RecordUnitResult(types.ResultFailed, types.LabelCancelled)
		return results.FromElements(results.CancelledFragment(s.Package))
	}
	return r.runSubordinate(ctx, s, listener, f)
}

func (r *AggregatingRunner) runSubordinate(ctx context.Context, s Subordinate, listener events.Listener, f filter.TestFilter) (res *results.EngineResult) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("unit %s", s.Package.Name()))
	span.SetAttributes(
		attribute.String("package.id", s.Package.ID()),
		attribute.String("package.path", s.Package.FullName()),
	)
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("runner panic: %v", p)
			r.log.Error("Subordinate runner panicked", "package", s.Package.FullName(), "panic", p)
			span.RecordError(err)
			res = results.FromElements(results.ErrorFragment(s.Package, err))
		}
		for _, e := range res.Fragments() {
			status := types.ResultState(e.SelectAttrValue(types.AttrResult, ""))
			label := e.SelectAttrValue(types.AttrLabel, "")
			span.SetAttributes(attribute.String("result", string(status)))
			if status == types.ResultFailed {
				span.SetStatus(codes.Error, label)
			}
			metrics.RecordUnitResult(status, label)
		}
	}()

	res, err := s.Runner.Run(ctx, listener, f)
	if err != nil {
		r.log.Error("Subordinate run failed", "package", s.Package.FullName(), "err", err)
		span.RecordError(err)
		return results.FromElements(results.ErrorFragment(s.Package, err))
	}
	if res == nil || len(res.Fragments()) == 0 {
		return results.FromElements(results.ErrorFragment(s.Package, errors.New("runner returned no result")))
	}
	return res
}

// RequestStop asks running subordinates to stop and keeps the rest of the
// current run from starting
func (r *AggregatingRunner) RequestStop() error {
	r.mu.Lock()
	r.stopping = true
	r.mu.Unlock()
	return r.broadcast(Runner.RequestStop)
}

// ForcedStop also cancels the context of the current run
func (r *AggregatingRunner) ForcedStop() error {
	r.mu.Lock()
	r.stopping = true
	cancel := r.cancelRun
	r.mu.Unlock()
	err := r.broadcast(Runner.ForcedStop)
	if cancel != nil {
		cancel()
	}
	return err
}

// broadcast calls stop on every subordinate without waiting for the runs
// to finish
func (r *AggregatingRunner) broadcast(stop func(Runner) error) error {
	var errs []error
	for _, s := range r.Subordinates() {
		if err := stop(s.Runner); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *AggregatingRunner) Dispose() error {
	return r.disposeSubordinates()
}

func (r *AggregatingRunner) disposeSubordinates() error {
	r.mu.Lock()
	subs := r.subordinates
	r.subordinates = nil
	r.disposed = true
	r.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Runner.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(subs) > 0 {
		r.log.Debug("Disposed subordinate runners", "count", len(subs))
	}
	return errors.Join(errs...)
}
