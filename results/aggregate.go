package results

import (
	"strconv"

	"github.com/beevik/etree"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// counters summed only over children that were executed
var executedCounters = []string{
	types.AttrTotal,
	types.AttrPassed,
	types.AttrFailed,
	types.AttrWarnings,
	types.AttrInconclusive,
	types.AttrSkipped,
	types.AttrAsserts,
}

// outcome is the running fold of child results
type outcome struct {
	status types.ResultState
	label  string
	site   string
}

// Aggregate creates a parent node named elementName holding copies of
// children in their given order, with rolled-up counts and outcome.
//
// testcasecount is always summed. The other counters are summed only over
// children carrying a result attribute, and when no child does the parent
// gets neither result nor counters. Outcomes fold with this precedence:
// Failed (sticky) > Warning > Skipped/Ignored > Passed > other Skipped >
// Inconclusive. A test-suite parent folding a Failed child records
// site="Child".
//
// A test-case child without its own counters counts as one test case, and
// as one executed test of its result kind when it has a result.
func Aggregate(elementName, testType, id, name, fullName string, children []*etree.Element) *etree.Element {
	parent := etree.NewElement(elementName)
	if testType != "" {
		parent.CreateAttr(types.AttrType, testType)
	}
	parent.CreateAttr(types.AttrID, id)
	if name != "" {
		parent.CreateAttr(types.AttrName, name)
	}
	if fullName != "" {
		parent.CreateAttr(types.AttrFullName, fullName)
	}
	parent.CreateAttr(types.AttrRunState, types.RunStateRunnable)

	testCaseCount := 0
	sums := make(map[string]int, len(executedCounters))
	executed := false
	state := outcome{status: types.ResultInconclusive}

	for _, child := range children {
		counts := countsOf(child)
		testCaseCount += counts[types.AttrTestCaseCount]

		result := child.SelectAttr(types.AttrResult)
		if result == nil {
			continue
		}
		executed = true
		for _, key := range executedCounters {
			sums[key] += counts[key]
		}
		state.fold(elementName, types.ResultState(result.Value), child.SelectAttrValue(types.AttrLabel, ""))
	}

	parent.CreateAttr(types.AttrTestCaseCount, strconv.Itoa(testCaseCount))
	if executed {
		parent.CreateAttr(types.AttrResult, string(state.status))
		if state.label != "" {
			parent.CreateAttr(types.AttrLabel, state.label)
		}
		if state.site != "" {
			parent.CreateAttr(types.AttrSite, state.site)
		}
		for _, key := range executedCounters {
			parent.CreateAttr(key, strconv.Itoa(sums[key]))
		}
	}

	for _, child := range children {
		parent.AddChild(child.Copy())
	}
	return parent
}

func (o *outcome) fold(elementName string, status types.ResultState, label string) {
	switch status {
	case types.ResultFailed:
		if o.status != types.ResultFailed {
			o.status = types.ResultFailed
			o.label = label
		}
		if elementName == types.ElementTestSuite {
			o.site = types.SiteChild
		}
	case types.ResultWarning:
		if o.status != types.ResultFailed {
			o.status = types.ResultWarning
			o.label = ""
		}
	case types.ResultSkipped:
		if label == types.LabelIgnored {
			if o.status == types.ResultInconclusive || o.status == types.ResultPassed || o.isPlainSkip() {
				o.status = types.ResultSkipped
				o.label = types.LabelIgnored
			}
		} else if o.status == types.ResultInconclusive {
			o.status = types.ResultSkipped
			o.label = label
		}
	case types.ResultPassed:
		if o.status == types.ResultInconclusive || o.isPlainSkip() {
			o.status = types.ResultPassed
			o.label = ""
		}
	}
}

func (o *outcome) isPlainSkip() bool {
	return o.status == types.ResultSkipped && o.label != types.LabelIgnored
}

func countsOf(child *etree.Element) map[string]int {
	counts := map[string]int{
		types.AttrTestCaseCount: IntAttr(child, types.AttrTestCaseCount),
	}
	for _, key := range executedCounters {
		counts[key] = IntAttr(child, key)
	}
	if child.Tag != types.ElementTestCase {
		return counts
	}

	if child.SelectAttr(types.AttrTestCaseCount) == nil {
		counts[types.AttrTestCaseCount] = 1
	}
	if child.SelectAttr(types.AttrTotal) != nil {
		return counts
	}
	result := child.SelectAttr(types.AttrResult)
	if result == nil {
		return counts
	}
	counts[types.AttrTotal] = 1
	switch types.ResultState(result.Value) {
	case types.ResultPassed:
		counts[types.AttrPassed] = 1
	case types.ResultFailed:
		counts[types.AttrFailed] = 1
	case types.ResultWarning:
		counts[types.AttrWarnings] = 1
	case types.ResultSkipped:
		counts[types.AttrSkipped] = 1
	case types.ResultInconclusive:
		counts[types.AttrInconclusive] = 1
	}
	return counts
}

// IntAttr returns the integer value of an attribute, or 0
func IntAttr(e *etree.Element, key string) int {
	n, err := strconv.Atoi(e.SelectAttrValue(key, "0"))
	if err != nil {
		return 0
	}
	return n
}
