package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/drivers"
	"github.com/ethereum-optimism/infra/op-testengine/events"
	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/metrics"
	"github.com/ethereum-optimism/infra/op-testengine/results"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

var _ Runner = (*DirectRunner)(nil)

// DirectRunner owns one leaf package and the driver that executes it. Every
// driver failure, panics included, surfaces as a *types.EngineError.
type DirectRunner struct {
	pkg    *types.TestPackage
	driver drivers.Driver
	log    log.Logger

	mu       sync.Mutex
	loaded   *results.EngineResult
	disposed bool
}

func NewDirectRunner(pkg *types.TestPackage, driver drivers.Driver, logger log.Logger) *DirectRunner {
	if logger == nil {
		logger = log.New()
	}
	return &DirectRunner{
		pkg:    pkg,
		driver: driver,
		log:    logger.New("component", "direct-runner", "package", pkg.FullName(), "package_id", pkg.ID()),
	}
}

// Load asks the driver to load the package once and caches the result
func (r *DirectRunner) Load(ctx context.Context) (*results.EngineResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLoaded(ctx)
}

func (r *DirectRunner) Reload(ctx context.Context) (*results.EngineResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return nil, ErrDisposed
	}
	r.loaded = nil
	return r.ensureLoaded(ctx)
}

func (r *DirectRunner) Unload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = nil
	return nil
}

func (r *DirectRunner) Explore(ctx context.Context, f filter.TestFilter) (*results.EngineResult, error) {
	if _, err := r.Load(ctx); err != nil {
		return nil, err
	}
	text, err := guard(r, "explore", func() (string, error) {
		return r.driver.Explore(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	return r.parse("explore", text)
}

func (r *DirectRunner) CountTestCases(ctx context.Context, f filter.TestFilter) (int, error) {
	if _, err := r.Load(ctx); err != nil {
		return 0, err
	}
	return guard(r, "count", func() (int, error) {
		return r.driver.CountTestCases(ctx, f)
	})
}

// Run executes the package's selected tests. When the filter cannot select
// anything in this package the driver is not invoked at all.
func (r *DirectRunner) Run(ctx context.Context, listener events.Listener, f filter.TestFilter) (*results.EngineResult, error) {
	if _, err := r.Load(ctx); err != nil {
		return nil, err
	}
	if filter.ExcludesPackage(f, r.pkg.ID()) {
		r.log.Debug("Filter excludes package, not invoking driver")
		return results.FromElements(results.FilterExcludedFragment(r.pkg)), nil
	}

	text, err := guard(r, "run", func() (string, error) {
		return r.driver.Run(ctx, listener, f)
	})
	if err != nil {
		return nil, err
	}
	return r.parse("run", text)
}

func (r *DirectRunner) RequestStop() error {
	_, err := guard(r, "stop", func() (struct{}, error) {
		return struct{}{}, r.driver.StopRun(false)
	})
	return err
}

func (r *DirectRunner) ForcedStop() error {
	_, err := guard(r, "forced-stop", func() (struct{}, error) {
		return struct{}{}, r.driver.StopRun(true)
	})
	return err
}

func (r *DirectRunner) Dispose() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed = true
	r.loaded = nil
	return nil
}

// ensureLoaded must be called with r.mu held
func (r *DirectRunner) ensureLoaded(ctx context.Context) (*results.EngineResult, error) {
	if r.disposed {
		return nil, ErrDisposed
	}
	if r.loaded != nil {
		return r.loaded, nil
	}
	text, err := guard(r, "load", func() (string, error) {
		return r.driver.Load(ctx, r.pkg.FullName(), r.pkg.Settings())
	})
	if err != nil {
		return nil, err
	}
	res, err := r.parse("load", text)
	if err != nil {
		return nil, err
	}
	r.loaded = res
	r.log.Debug("Loaded package")
	return res, nil
}

func (r *DirectRunner) parse(op, text string) (*results.EngineResult, error) {
	res, err := results.NewEngineResult(text)
	if err != nil {
		metrics.RecordDriverError(op, r.pkg.FullName(), err)
		return nil, types.NewEngineError(op, r.pkg.FullName(), err)
	}
	return res, nil
}

// guard calls fn, converting its error or panic into an EngineError
func guard[T any](r *DirectRunner, op string, fn func() (T, error)) (out T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("driver panic: %v", p)
		}
		if err != nil {
			r.log.Warn("Driver call failed", "op", op, "err", err)
			metrics.RecordDriverError(op, r.pkg.FullName(), err)
			err = types.NewEngineError(op, r.pkg.FullName(), err)
		}
	}()
	return fn()
}
