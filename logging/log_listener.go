package logging

import (
	"github.com/beevik/etree"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/events"
	"github.com/ethereum-optimism/infra/op-testengine/results"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// LogListener writes a structured log line for each test event. Package
// completions and the run summary log at info, failures at warn and
// unhandled exceptions at error; everything else logs at debug.
type LogListener struct {
	log log.Logger
}

var _ events.Listener = (*LogListener)(nil)

func NewLogListener(logger log.Logger) *LogListener {
	if logger == nil {
		logger = log.New()
	}
	return &LogListener{log: logger.New("component", "test-events")}
}

func (l *LogListener) OnTestEvent(report string) {
	e, err := results.ParseElement(report)
	if err != nil {
		l.log.Warn("Unreadable test event", "err", err)
		return
	}

	switch e.Tag {
	case types.ElementStartRun:
		l.log.Info("Test run started", "run_id", e.SelectAttrValue("run-id", ""), "count", e.SelectAttrValue("count", ""))
	case types.ElementStartSuite:
		l.log.Debug("Suite started", "id", attr(e, types.AttrID), "name", attr(e, types.AttrFullName))
	case types.ElementStartTest:
		l.log.Debug("Test started", "id", attr(e, types.AttrID), "name", attr(e, types.AttrFullName))
	case types.ElementTestCase:
		l.logOutcome(e, "Test finished")
	case types.ElementTestSuite:
		if attr(e, types.AttrType) == types.SuiteTypeAssembly {
			l.logOutcome(e, "Package finished")
			return
		}
		l.log.Debug("Suite finished", "id", attr(e, types.AttrID), "name", attr(e, types.AttrFullName), "result", attr(e, types.AttrResult))
	case types.ElementTestRun:
		l.log.Info("Test run finished",
			"result", attr(e, types.AttrResult),
			"label", attr(e, types.AttrLabel),
			"total", results.IntAttr(e, types.AttrTotal),
			"passed", results.IntAttr(e, types.AttrPassed),
			"failed", results.IntAttr(e, types.AttrFailed),
			"skipped", results.IntAttr(e, types.AttrSkipped),
			"duration", attr(e, types.AttrDuration))
	case types.ElementUnhandledException:
		l.log.Error("Unhandled exception during test run", "message", e.SelectAttrValue("message", ""))
	default:
		l.log.Debug("Unknown test event", "tag", e.Tag)
	}
}

func (l *LogListener) logOutcome(e *etree.Element, msg string) {
	failed := attr(e, types.AttrResult) == string(types.ResultFailed)
	ctx := []any{
		"id", attr(e, types.AttrID),
		"name", attr(e, types.AttrFullName),
		"result", attr(e, types.AttrResult),
		"duration", attr(e, types.AttrDuration),
	}
	if label := attr(e, types.AttrLabel); label != "" {
		ctx = append(ctx, "label", label)
	}
	if m := e.FindElement("./failure/message"); failed && m != nil {
		ctx = append(ctx, "message", firstLine(m.Text()))
	}

	switch {
	case e.Tag == types.ElementTestSuite:
		l.log.Info(msg, ctx...)
	case failed:
		l.log.Warn("Test failed", ctx...)
	default:
		l.log.Debug(msg, ctx...)
	}
}

func attr(e *etree.Element, key string) string {
	return e.SelectAttrValue(key, "")
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
