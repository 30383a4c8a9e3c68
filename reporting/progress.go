package reporting

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/ethereum-optimism/infra/op-testengine/events"
	"github.com/ethereum-optimism/infra/op-testengine/results"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// ProgressListener draws a progress bar sized by the start-run count and
// advances it for every completed top level test
type ProgressListener struct {
	w io.Writer

	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	passed  int
	failed  int
	skipped int
}

var _ events.Listener = (*ProgressListener)(nil)

func NewProgressListener(w io.Writer) *ProgressListener {
	return &ProgressListener{w: w}
}

func (p *ProgressListener) OnTestEvent(report string) {
	e, err := results.ParseElement(report)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Tag {
	case types.ElementStartRun:
		count, _ := strconv.Atoi(e.SelectAttrValue("count", "0"))
		p.start(count)
	case types.ElementTestCase:
		p.advance(e.SelectAttrValue(types.AttrResult, ""))
	case types.ElementTestSuite:
		if e.SelectAttrValue(types.AttrType, "") == types.SuiteTypeParameterizedMethod {
			p.advance(e.SelectAttrValue(types.AttrResult, ""))
		}
	case types.ElementTestRun:
		if p.bar != nil {
			_ = p.bar.Finish()
			p.bar = nil
		}
	}
}

// Counts returns the passed, failed and skipped tests seen in the current
// or last run
func (p *ProgressListener) Counts() (passed, failed, skipped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passed, p.failed, p.skipped
}

func (p *ProgressListener) start(count int) {
	p.passed, p.failed, p.skipped = 0, 0, 0
	p.bar = progressbar.NewOptions(count,
		progressbar.OptionSetDescription(p.description()),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        color.CyanString("█"),
			SaucerHead:    color.CyanString("█"),
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (p *ProgressListener) advance(result string) {
	switch result {
	case string(types.ResultPassed):
		p.passed++
	case string(types.ResultFailed):
		p.failed++
	case string(types.ResultSkipped):
		p.skipped++
	default:
		return
	}
	if p.bar == nil {
		return
	}
	_ = p.bar.Add(1)
	p.bar.Describe(p.description())
}

func (p *ProgressListener) description() string {
	return color.CyanString("Running tests: ") +
		color.GreenString("[passed: %d", p.passed) +
		" | " +
		color.RedString("failed: %d", p.failed) +
		" | " +
		color.YellowString("skipped: %d]", p.skipped)
}
