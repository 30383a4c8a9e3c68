package events

import (
	"sync"

	"github.com/ethereum-optimism/infra/op-testengine/results"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

type workItem struct {
	id       string
	name     string
	fullName string
	testType string
}

// WorkItemTracker records suites that started but have not completed, so a
// forced stop can report them as cancelled. It is itself a Listener and is
// normally registered first on the run's Dispatcher.
type WorkItemTracker struct {
	mu      sync.Mutex
	pending []workItem
}

func NewWorkItemTracker() *WorkItemTracker {
	return &WorkItemTracker{}
}

// OnTestEvent implements Listener
func (t *WorkItemTracker) OnTestEvent(report string) {
	e, err := results.ParseElement(report)
	if err != nil {
		return
	}
	switch e.Tag {
	case types.ElementStartRun:
		t.Clear()
	case types.ElementStartSuite:
		t.mu.Lock()
		t.pending = append(t.pending, workItem{
			id:       e.SelectAttrValue(types.AttrID, ""),
			name:     e.SelectAttrValue(types.AttrName, ""),
			fullName: e.SelectAttrValue(types.AttrFullName, ""),
			testType: e.SelectAttrValue(types.AttrType, ""),
		})
		t.mu.Unlock()
	case types.ElementTestSuite:
		t.complete(e.SelectAttrValue(types.AttrID, ""))
	}
}

func (t *WorkItemTracker) complete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.pending) - 1; i >= 0; i-- {
		if t.pending[i].id == id {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}

// Pending returns the number of suites in flight
func (t *WorkItemTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// PendingIDs returns the ids of suites in flight, oldest first
func (t *WorkItemTracker) PendingIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, len(t.pending))
	for i, item := range t.pending {
		ids[i] = item.id
	}
	return ids
}

// Clear forgets every pending suite
func (t *WorkItemTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
}

// SendPendingCompletions sends a Failed/Cancelled test-suite notification to
// l for every pending suite, innermost first, and clears the tracker. The
// tracker lock is released before l is called, so l may be a Dispatcher the
// tracker is registered on.
func (t *WorkItemTracker) SendPendingCompletions(l Listener) int {
	t.mu.Lock()
	items := t.pending
	t.pending = nil
	t.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		l.OnTestEvent(results.ElementString(results.CancelledSuiteEvent(item.id, item.name, item.fullName, item.testType)))
	}
	return len(items)
}
