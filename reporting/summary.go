package reporting

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/ethereum-optimism/infra/op-testengine/results"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// Counts are the rolled-up counters of a result node
type Counts struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

// TestSummary is one test, or one subtest of a parameterized test
type TestSummary struct {
	ID       string
	Name     string
	Result   string
	Label    string
	Message  string
	Duration float64
	Subtests []TestSummary
}

// PackageSummary is the outcome of one package (an Assembly suite)
type PackageSummary struct {
	ID       string
	Name     string
	Path     string
	Result   string
	Label    string
	Message  string
	Duration float64
	Counts
	Tests []TestSummary
}

// Summary is a flattened view of a test-run tree used for console output
type Summary struct {
	RunID    string
	Result   string
	Label    string
	Duration float64
	Counts
	Packages []PackageSummary
}

// Failed reports whether the run result is Failed
func (s Summary) Failed() bool {
	return s.Result == string(types.ResultFailed)
}

// Summarize builds a Summary from a test-run element
func Summarize(run *etree.Element) Summary {
	s := Summary{
		RunID:    attr(run, types.AttrID),
		Result:   attr(run, types.AttrResult),
		Label:    attr(run, types.AttrLabel),
		Duration: floatAttr(run, types.AttrDuration),
		Counts:   countsOf(run),
	}
	for _, suite := range run.FindElements(".//test-suite[@type='" + types.SuiteTypeAssembly + "']") {
		s.Packages = append(s.Packages, summarizePackage(suite))
	}
	return s
}

func summarizePackage(suite *etree.Element) PackageSummary {
	p := PackageSummary{
		ID:       attr(suite, types.AttrID),
		Name:     attr(suite, types.AttrName),
		Path:     attr(suite, types.AttrFullName),
		Result:   attr(suite, types.AttrResult),
		Label:    attr(suite, types.AttrLabel),
		Message:  messageOf(suite),
		Duration: floatAttr(suite, types.AttrDuration),
		Counts:   countsOf(suite),
	}
	for _, child := range suite.ChildElements() {
		switch child.Tag {
		case types.ElementTestCase, types.ElementTestSuite:
			p.Tests = append(p.Tests, summarizeTest(child))
		}
	}
	return p
}

func summarizeTest(e *etree.Element) TestSummary {
	t := TestSummary{
		ID:       attr(e, types.AttrID),
		Name:     attr(e, types.AttrName),
		Result:   attr(e, types.AttrResult),
		Label:    attr(e, types.AttrLabel),
		Message:  messageOf(e),
		Duration: floatAttr(e, types.AttrDuration),
	}
	if e.Tag == types.ElementTestSuite {
		for _, sub := range e.SelectElements(types.ElementTestCase) {
			t.Subtests = append(t.Subtests, summarizeTest(sub))
		}
	}
	return t
}

func countsOf(e *etree.Element) Counts {
	return Counts{
		Total:   results.IntAttr(e, types.AttrTotal),
		Passed:  results.IntAttr(e, types.AttrPassed),
		Failed:  results.IntAttr(e, types.AttrFailed),
		Skipped: results.IntAttr(e, types.AttrSkipped),
	}
}

func messageOf(e *etree.Element) string {
	for _, path := range []string{"./failure/message", "./reason/message"} {
		if m := e.FindElement(path); m != nil {
			return KeyMessage(m.Text())
		}
	}
	return ""
}

// KeyMessage extracts the most pertinent line of a failure message for
// display: a panic, an assertion or the first line, capped at 80 runes
func KeyMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return ""
	}

	lines := strings.Split(msg, "\n")
	for _, marker := range []string{"panic:", "Error:", "expected", "Expected", "FAIL:"} {
		for _, line := range lines {
			if idx := strings.Index(line, marker); idx != -1 {
				return truncate(strings.TrimSpace(line[idx:]))
			}
		}
	}
	return truncate(strings.TrimSpace(lines[0]))
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > 80 {
		return string(r[:77]) + "..."
	}
	return s
}

func attr(e *etree.Element, key string) string {
	return e.SelectAttrValue(key, "")
}

func floatAttr(e *etree.Element, key string) float64 {
	f, err := strconv.ParseFloat(attr(e, key), 64)
	if err != nil {
		return 0
	}
	return f
}
