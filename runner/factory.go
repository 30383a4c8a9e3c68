package runner

import (
	"errors"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/drivers"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// BuildRunnerTree creates the aggregating runner for pkg with one
// subordinate per leaf. Anonymous leaves, such as an empty composite,
// contribute nothing.
func BuildRunnerTree(pkg *types.TestPackage, service drivers.Service, logger log.Logger) *AggregatingRunner {
	var subs []Subordinate
	for _, leaf := range pkg.Leaves() {
		if leaf.FullName() == "" {
			continue
		}
		subs = append(subs, Subordinate{Package: leaf, Runner: NewLeafRunner(leaf, service, logger)})
	}
	return NewAggregatingRunner(pkg, subs, logger)
}

// NewLeafRunner asks service for a driver and falls back to a placeholder
// runner when none can run the package
func NewLeafRunner(leaf *types.TestPackage, service drivers.Service, logger log.Logger) Runner {
	driver, err := service.GetDriver(leaf)
	if err != nil {
		var notRunnable *drivers.NotRunnableError
		if errors.As(err, &notRunnable) {
			if notRunnable.Skipped {
				return NewSkippedRunner(leaf, notRunnable.Reason)
			}
			return NewInvalidRunner(leaf, notRunnable.Reason)
		}
		return NewInvalidRunner(leaf, err.Error())
	}
	if driver == nil {
		return NewInvalidRunner(leaf, "no driver available")
	}
	return NewDirectRunner(leaf, driver, logger)
}
