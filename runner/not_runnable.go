package runner

import (
	"context"

	"github.com/beevik/etree"

	"github.com/ethereum-optimism/infra/op-testengine/events"
	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/results"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

var _ Runner = (*NotRunnableRunner)(nil)

// NotRunnableRunner stands in for a package that cannot be executed. Every
// operation returns the same pre-rendered fragment and stopping is a no-op.
type NotRunnableRunner struct {
	pkg      *types.TestPackage
	fragment *etree.Element
}

// NewInvalidRunner reports pkg as NotRunnable, Failed/Invalid
func NewInvalidRunner(pkg *types.TestPackage, reason string) *NotRunnableRunner {
	return &NotRunnableRunner{pkg: pkg, fragment: results.InvalidFragment(pkg, reason)}
}

// NewSkippedRunner reports pkg as Runnable, Skipped/NoTests
func NewSkippedRunner(pkg *types.TestPackage, reason string) *NotRunnableRunner {
	return &NotRunnableRunner{pkg: pkg, fragment: results.SkippedFragment(pkg, reason)}
}

func (r *NotRunnableRunner) result() *results.EngineResult {
	return results.FromElements(r.fragment.Copy())
}

func (r *NotRunnableRunner) Load(context.Context) (*results.EngineResult, error) {
	return r.result(), nil
}

func (r *NotRunnableRunner) Reload(context.Context) (*results.EngineResult, error) {
	return r.result(), nil
}

func (r *NotRunnableRunner) Unload(context.Context) error { return nil }

func (r *NotRunnableRunner) Explore(context.Context, filter.TestFilter) (*results.EngineResult, error) {
	return r.result(), nil
}

func (r *NotRunnableRunner) CountTestCases(context.Context, filter.TestFilter) (int, error) {
	return 0, nil
}

func (r *NotRunnableRunner) Run(context.Context, events.Listener, filter.TestFilter) (*results.EngineResult, error) {
	return r.result(), nil
}

func (r *NotRunnableRunner) RequestStop() error { return nil }

func (r *NotRunnableRunner) ForcedStop() error { return nil }

func (r *NotRunnableRunner) Dispose() error { return nil }
