package drivers

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/beevik/etree"

	"github.com/ethereum-optimism/infra/op-testengine/events"
	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/results"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// TestEvent represents a test event from go test -json output
type TestEvent struct {
	Time    time.Time // Time the event occurred
	Action  string    // The action taken (run, pause, cont, pass, fail, skip, output)
	Package string    // The package being tested
	Test    string    // The test name, empty for package-level events
	Elapsed float64   // Elapsed time in seconds for pass/fail events
	Output  string    // Output text for output events
}

func parseTestEvent(line []byte) (TestEvent, error) {
	var event TestEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return event, err
	}
	return event, nil
}

// outcome of one test or subtest as reported by test2json
type outcome struct {
	result  types.ResultState
	label   string
	start   time.Time
	end     time.Time
	elapsed float64
	output  strings.Builder
	done    bool
}

func (o *outcome) apply(event TestEvent) {
	switch event.Action {
	case ActionRun:
		o.start = event.Time
	case ActionOutput:
		o.output.WriteString(stripansi.Strip(event.Output))
	case ActionPass:
		o.finish(event, types.ResultPassed, "")
	case ActionFail:
		o.finish(event, types.ResultFailed, "")
	case ActionSkip:
		o.finish(event, types.ResultSkipped, types.LabelIgnored)
	}
}

func (o *outcome) finish(event TestEvent, result types.ResultState, label string) {
	o.result = result
	o.label = label
	o.end = event.Time
	o.elapsed = event.Elapsed
	o.done = true
}

type subtestState struct {
	name string
	outcome
}

type caseState struct {
	test     discoveredTest
	info     filter.TestInfo
	subtests []*subtestState
	byName   map[string]*subtestState
	outcome
}

func (c *caseState) subtest(name string) *subtestState {
	if s, ok := c.byName[name]; ok {
		return s
	}
	s := &subtestState{name: name}
	c.byName[name] = s
	c.subtests = append(c.subtests, s)
	return s
}

// eventStream turns a live test2json stream into engine notifications
type eventStream struct {
	listener      events.Listener
	cases         []*caseState
	byName        map[string]*caseState
	packageOutput strings.Builder
	reported      int
}

func newEventStream(listener events.Listener, tests []discoveredTest, infos []filter.TestInfo) *eventStream {
	s := &eventStream{
		listener: listener,
		byName:   make(map[string]*caseState, len(tests)),
	}
	for i, t := range tests {
		c := &caseState{test: t, info: infos[i], byName: make(map[string]*subtestState)}
		s.cases = append(s.cases, c)
		s.byName[t.Name] = c
	}
	return s
}

func (s *eventStream) handleLine(line []byte) {
	event, err := parseTestEvent(line)
	if err != nil {
		s.packageOutput.WriteString(stripansi.Strip(string(line)))
		s.packageOutput.WriteString("\n")
		return
	}
	if event.Test == "" {
		if event.Action == ActionOutput || event.Action == ActionBuildOutput {
			s.packageOutput.WriteString(stripansi.Strip(event.Output))
		}
		return
	}

	top, sub, isSub := strings.Cut(event.Test, "/")
	c, ok := s.byName[top]
	if !ok {
		return
	}
	if isSub {
		c.subtest(sub).apply(event)
		return
	}

	c.apply(event)
	switch event.Action {
	case ActionRun:
		s.emit(startTestEvent(c.info))
	case ActionPass, ActionFail, ActionSkip:
		s.reported++
		s.emit(c.element())
	}
}

// finish completes every case that never reported a result and returns
// all case elements in discovery order
func (s *eventStream) finish(stopped bool) []*etree.Element {
	elements := make([]*etree.Element, 0, len(s.cases))
	for _, c := range s.cases {
		if !c.done {
			c.done = true
			c.result = types.ResultFailed
			if stopped {
				c.label = types.LabelCancelled
				c.output.WriteString("Test run cancelled\n")
			} else {
				c.label = types.LabelError
				c.output.WriteString("Test did not report a result\n")
			}
			s.emit(c.element())
		}
		elements = append(elements, c.element())
	}
	return elements
}

func (s *eventStream) emit(e *etree.Element) {
	if s.listener != nil {
		s.listener.OnTestEvent(results.ElementString(e))
	}
}

func startTestEvent(info filter.TestInfo) *etree.Element {
	e := etree.NewElement(types.ElementStartTest)
	e.CreateAttr(types.AttrID, info.ID)
	e.CreateAttr(types.AttrName, info.Name)
	e.CreateAttr(types.AttrFullName, info.FullName)
	return e
}

// element renders the case as a test-case, or as a ParameterizedMethod
// suite when it ran subtests
func (c *caseState) element() *etree.Element {
	if len(c.subtests) == 0 {
		e := testCaseElement(c.info)
		c.outcome.decorate(e)
		return e
	}

	children := make([]*etree.Element, 0, len(c.subtests))
	for i, sub := range c.subtests {
		info := filter.TestInfo{
			ID:         c.info.ID + "-" + strconv.Itoa(i+1),
			Name:       sub.name,
			FullName:   c.info.FullName + "/" + sub.name,
			ClassName:  c.info.ClassName,
			MethodName: c.info.MethodName,
		}
		child := testCaseElement(info)
		if !sub.done && c.done {
			sub.result, sub.label = c.result, c.label
			sub.done = true
		}
		sub.decorate(child)
		children = append(children, child)
	}

	e := results.Aggregate(types.ElementTestSuite, types.SuiteTypeParameterizedMethod,
		c.info.ID, c.info.Name, c.info.FullName, children)
	if c.done && c.result == types.ResultFailed && e.SelectAttrValue(types.AttrResult, "") != string(types.ResultFailed) {
		e.CreateAttr(types.AttrResult, string(types.ResultFailed))
		if c.label != "" {
			e.CreateAttr(types.AttrLabel, c.label)
		}
		results.AddFailure(e, strings.TrimSpace(c.output.String()), "")
	}
	if !c.start.IsZero() && !c.end.IsZero() {
		results.StampTimes(e, c.start, c.end)
	}
	return e
}

func testCaseElement(info filter.TestInfo) *etree.Element {
	e := etree.NewElement(types.ElementTestCase)
	e.CreateAttr(types.AttrID, info.ID)
	e.CreateAttr(types.AttrName, info.Name)
	e.CreateAttr(types.AttrFullName, info.FullName)
	e.CreateAttr("methodname", info.MethodName)
	e.CreateAttr("classname", info.ClassName)
	e.CreateAttr(types.AttrRunState, types.RunStateRunnable)
	if len(info.Categories) > 0 {
		props := e.CreateElement("properties")
		for _, c := range info.Categories {
			p := props.CreateElement("property")
			p.CreateAttr("name", "Category")
			p.CreateAttr("value", c)
		}
	}
	return e
}

func (o *outcome) decorate(e *etree.Element) {
	if !o.done {
		return
	}
	e.CreateAttr(types.AttrResult, string(o.result))
	if o.label != "" {
		e.CreateAttr(types.AttrLabel, o.label)
	}
	if !o.start.IsZero() && !o.end.IsZero() {
		e.CreateAttr(types.AttrStartTime, o.start.UTC().Format(results.TimeFormat))
		e.CreateAttr(types.AttrEndTime, o.end.UTC().Format(results.TimeFormat))
	}
	e.CreateAttr(types.AttrDuration, strconv.FormatFloat(o.elapsed, 'f', 6, 64))
	e.CreateAttr(types.AttrAsserts, "0")

	output := strings.TrimSpace(o.output.String())
	switch o.result {
	case types.ResultFailed:
		results.AddFailure(e, output, "")
	case types.ResultSkipped:
		e.CreateElement("reason").CreateElement("message").CreateCData(output)
	}
	if output != "" {
		e.CreateElement("output").CreateCData(output)
	}
}
