package runner

import (
	"context"

	"github.com/ethereum-optimism/infra/op-testengine/results"
)

// RunHandle tracks a run started with RunAsync
type RunHandle struct {
	id     string
	done   chan struct{}
	result *results.EngineResult
}

func newRunHandle(id string) *RunHandle {
	return &RunHandle{id: id, done: make(chan struct{})}
}

func (h *RunHandle) complete(res *results.EngineResult) {
	h.result = res
	close(h.done)
}

// ID returns the run id reported in the start-run event
func (h *RunHandle) ID() string {
	return h.id
}

// Done is closed when the run completes
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run completes or ctx is done. Cancelling ctx stops
// waiting, not the run; use MasterRunner.StopRun for that.
func (h *RunHandle) Wait(ctx context.Context) (*results.EngineResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the run result without blocking; ok is false until the
// run completes
func (h *RunHandle) Result() (res *results.EngineResult, ok bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return nil, false
	}
}
