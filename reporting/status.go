package reporting

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// StatusLine is the one-line colored verdict printed after every run
func StatusLine(s Summary) string {
	verdict := s.Result
	if s.Label != "" {
		verdict += " (" + s.Label + ")"
	}
	counts := fmt.Sprintf("%d tests: %d passed, %d failed, %d skipped in %s",
		s.Total, s.Passed, s.Failed, s.Skipped, formatDuration(s.Duration))

	switch s.Result {
	case string(types.ResultPassed):
		return color.GreenString("✓ %s", verdict) + " " + counts
	case string(types.ResultFailed):
		return color.New(color.FgRed, color.Bold).Sprintf("✗ %s", verdict) + " " + counts
	default:
		return color.YellowString("- %s", verdict) + " " + counts
	}
}
