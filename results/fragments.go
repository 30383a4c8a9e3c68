package results

import (
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// TimeFormat is used for every start-time and end-time attribute
const TimeFormat = "2006-01-02 15:04:05.000Z"

const (
	FilterExcludesReason = "Filter excludes this assembly"
	CancelledReason      = "Test run cancelled"
	skipReasonProperty   = "_SKIPREASON"
)

// SkippedFragment is the result of a package that is deliberately not run
func SkippedFragment(pkg *types.TestPackage, reason string) *etree.Element {
	e := packageSuite(pkg, types.RunStateRunnable)
	setOutcome(e, types.ResultSkipped, types.LabelNoTests)
	addReason(e, reason)
	return e
}

// FilterExcludedFragment is returned instead of running a package the
// filter cannot select
func FilterExcludedFragment(pkg *types.TestPackage) *etree.Element {
	return SkippedFragment(pkg, FilterExcludesReason)
}

// InvalidFragment is the result of a package that cannot be run at all
func InvalidFragment(pkg *types.TestPackage, reason string) *etree.Element {
	e := packageSuite(pkg, types.RunStateNotRunnable)
	setOutcome(e, types.ResultFailed, types.LabelInvalid)
	addReason(e, reason)
	return e
}

// ErrorFragment is the result of a package whose runner failed
func ErrorFragment(pkg *types.TestPackage, err error) *etree.Element {
	e := packageSuite(pkg, types.RunStateRunnable)
	setOutcome(e, types.ResultFailed, types.LabelError)
	AddFailure(e, err.Error(), "")
	return e
}

// CancelledFragment is the result of a package whose run was stopped
// before it started
func CancelledFragment(pkg *types.TestPackage) *etree.Element {
	e := packageSuite(pkg, types.RunStateRunnable)
	setOutcome(e, types.ResultFailed, types.LabelCancelled)
	addReason(e, CancelledReason)
	return e
}

func packageSuite(pkg *types.TestPackage, runState string) *etree.Element {
	e := etree.NewElement(types.ElementTestSuite)
	e.CreateAttr(types.AttrType, types.SuiteTypeAssembly)
	e.CreateAttr(types.AttrID, pkg.ID())
	if pkg.Name() != "" {
		e.CreateAttr(types.AttrName, pkg.Name())
	}
	if pkg.FullName() != "" {
		e.CreateAttr(types.AttrFullName, pkg.FullName())
	}
	e.CreateAttr(types.AttrRunState, runState)
	e.CreateAttr(types.AttrTestCaseCount, "0")
	return e
}

func setOutcome(e *etree.Element, status types.ResultState, label string) {
	e.CreateAttr(types.AttrResult, string(status))
	if label != "" {
		e.CreateAttr(types.AttrLabel, label)
	}
	for _, key := range executedCounters {
		e.CreateAttr(key, "0")
	}
}

func addReason(e *etree.Element, reason string) {
	props := e.CreateElement("properties")
	prop := props.CreateElement("property")
	prop.CreateAttr("name", skipReasonProperty)
	prop.CreateAttr("value", reason)
	e.CreateElement("reason").CreateElement("message").CreateCData(reason)
}

// AddFailure appends a failure element with message and optional stack trace
func AddFailure(e *etree.Element, message, stackTrace string) {
	failure := e.CreateElement("failure")
	failure.CreateElement("message").CreateCData(message)
	if stackTrace != "" {
		failure.CreateElement("stack-trace").CreateCData(stackTrace)
	}
}

// CancelledSuiteEvent completes a suite that started but will never finish
func CancelledSuiteEvent(id, name, fullName, testType string) *etree.Element {
	e := etree.NewElement(types.ElementTestSuite)
	if testType != "" {
		e.CreateAttr(types.AttrType, testType)
	}
	e.CreateAttr(types.AttrID, id)
	if name != "" {
		e.CreateAttr(types.AttrName, name)
	}
	if fullName != "" {
		e.CreateAttr(types.AttrFullName, fullName)
	}
	e.CreateAttr(types.AttrResult, string(types.ResultFailed))
	e.CreateAttr(types.AttrLabel, types.LabelCancelled)
	AddFailure(e, "Test run cancelled by user", "")
	return e
}

// CancelledRunEvent is the terminal event of a forcibly stopped run
func CancelledRunEvent(id string) *etree.Element {
	e := etree.NewElement(types.ElementTestRun)
	e.CreateAttr(types.AttrID, id)
	e.CreateAttr(types.AttrResult, string(types.ResultFailed))
	e.CreateAttr(types.AttrLabel, types.LabelCancelled)
	return e
}

// StartRunEvent announces a run before any package starts
func StartRunEvent(count int, start time.Time, engineVersion, goVersion, runID string) *etree.Element {
	e := etree.NewElement(types.ElementStartRun)
	e.CreateAttr("count", strconv.Itoa(count))
	e.CreateAttr(types.AttrStartTime, start.UTC().Format(TimeFormat))
	e.CreateAttr("engine-version", engineVersion)
	e.CreateAttr("go-version", goVersion)
	if runID != "" {
		e.CreateAttr("run-id", runID)
	}
	return e
}

// UnhandledExceptionEvent reports a failure that escaped the runner tree
func UnhandledExceptionEvent(message, stackTrace string) *etree.Element {
	e := etree.NewElement(types.ElementUnhandledException)
	e.CreateAttr("message", message)
	if stackTrace != "" {
		e.CreateAttr("stacktrace", stackTrace)
	}
	return e
}

// ErrorRun is the test-run tree returned when a run failed as a whole
func ErrorRun(pkg *types.TestPackage, message, stackTrace string) *etree.Element {
	e := etree.NewElement(types.ElementTestRun)
	e.CreateAttr(types.AttrID, pkg.ID())
	if pkg.Name() != "" {
		e.CreateAttr(types.AttrName, pkg.Name())
	}
	if pkg.FullName() != "" {
		e.CreateAttr(types.AttrFullName, pkg.FullName())
	}
	e.CreateAttr(types.AttrRunState, types.RunStateRunnable)
	e.CreateAttr(types.AttrTestCaseCount, "0")
	setOutcome(e, types.ResultFailed, types.LabelError)
	AddFailure(e, message, stackTrace)
	return e
}

// StampTimes records start, end and duration on e
func StampTimes(e *etree.Element, start, end time.Time) {
	e.CreateAttr(types.AttrStartTime, start.UTC().Format(TimeFormat))
	e.CreateAttr(types.AttrEndTime, end.UTC().Format(TimeFormat))
	e.CreateAttr(types.AttrDuration, strconv.FormatFloat(end.Sub(start).Seconds(), 'f', 6, 64))
}

// InsertRunInfo adds the command line and the applied filter as the first
// children of a test-run tree
func InsertRunInfo(e *etree.Element, commandLine string, filter *etree.Element) {
	index := 0
	if commandLine != "" {
		cmd := etree.NewElement("command-line")
		cmd.CreateCData(commandLine)
		e.InsertChildAt(index, cmd)
		index++
	}
	if filter != nil {
		e.InsertChildAt(index, filter)
	}
}
