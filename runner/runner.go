package runner

import (
	"context"
	"errors"

	"github.com/ethereum-optimism/infra/op-testengine/events"
	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/results"
)

var (
	// ErrDisposed is returned by every operation on a disposed runner
	ErrDisposed = errors.New("runner has been disposed")
	// ErrRunInProgress is returned when an operation conflicts with a running run
	ErrRunInProgress = errors.New("a test run is already in progress")
	// ErrRunnersDisposed is returned by an aggregating runner whose
	// subordinates were disposed after a run
	ErrRunnersDisposed = errors.New("subordinate runners were disposed after the last run")
)

// Runner is implemented by every variant in the runner hierarchy. Each
// runner is bound to one package for its whole lifetime.
type Runner interface {
	Load(ctx context.Context) (*results.EngineResult, error)
	Reload(ctx context.Context) (*results.EngineResult, error)
	Unload(ctx context.Context) error
	Explore(ctx context.Context, f filter.TestFilter) (*results.EngineResult, error)
	// CountTestCases is advisory, used for progress totals
	CountTestCases(ctx context.Context, f filter.TestFilter) (int, error)
	Run(ctx context.Context, listener events.Listener, f filter.TestFilter) (*results.EngineResult, error)
	// RequestStop asks running tests to stop at their next safe point and
	// returns without waiting for them
	RequestStop() error
	// ForcedStop must return promptly even if the tests do not cooperate
	ForcedStop() error
	Dispose() error
}
