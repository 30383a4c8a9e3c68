// Package drivers contains the contract between runners and the component
// that actually loads, explores and executes one package's tests, plus the
// bundled driver built on `go test -json`.
package drivers

import (
	"context"
	"fmt"

	"github.com/ethereum-optimism/infra/op-testengine/events"
	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// Driver executes or explores a single package. Every method returning a
// string returns one XML result fragment.
type Driver interface {
	Load(ctx context.Context, path string, settings map[string]any) (string, error)
	Explore(ctx context.Context, f filter.TestFilter) (string, error)
	CountTestCases(ctx context.Context, f filter.TestFilter) (int, error)
	// Run executes the selected tests, reporting progress to listener as it
	// goes, and returns the package's final fragment.
	Run(ctx context.Context, listener events.Listener, f filter.TestFilter) (string, error)
	// StopRun asks a running driver to stop. A forced stop must return
	// promptly even when the test process does not cooperate.
	StopRun(force bool) error
}

// Service selects the driver for a leaf package
type Service interface {
	GetDriver(pkg *types.TestPackage) (Driver, error)
}

// NotRunnableError is returned by a Service when no driver can run the
// package. Skipped distinguishes deliberately skipped packages from invalid
// ones.
type NotRunnableError struct {
	Package string
	Reason  string
	Skipped bool
}

func (e *NotRunnableError) Error() string {
	kind := "invalid"
	if e.Skipped {
		kind = "skipped"
	}
	return fmt.Sprintf("package %s is %s: %s", e.Package, kind, e.Reason)
}
