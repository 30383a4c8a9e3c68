package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/drivers"
	"github.com/ethereum-optimism/infra/op-testengine/events"
	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/results"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

// fakeDriver reports one test case with a fixed outcome
type fakeDriver struct {
	pkgID  string
	path   string
	result types.ResultState
	label  string
	delay  time.Duration

	loadErr    error
	runErr     error
	panicOnRun bool
	// block makes Run wait for a forced stop
	block bool

	mu          sync.Mutex
	loads       int
	runs        int
	stops       int
	forcedStops int
	release     chan struct{}
	releaseOnce sync.Once
}

var _ drivers.Driver = (*fakeDriver)(nil)

func newFakeDriver(pkg *types.TestPackage, result types.ResultState, label string) *fakeDriver {
	return &fakeDriver{
		pkgID:   pkg.ID(),
		path:    pkg.FullName(),
		result:  result,
		label:   label,
		release: make(chan struct{}),
	}
}

func (d *fakeDriver) suiteID() string { return d.pkgID + "-1000" }

func (d *fakeDriver) suite() *etree.Element {
	e := etree.NewElement(types.ElementTestSuite)
	e.CreateAttr(types.AttrType, types.SuiteTypeAssembly)
	e.CreateAttr(types.AttrID, d.suiteID())
	e.CreateAttr(types.AttrName, filepath.Base(d.path))
	e.CreateAttr(types.AttrFullName, d.path)
	e.CreateAttr(types.AttrRunState, types.RunStateRunnable)
	e.CreateAttr(types.AttrTestCaseCount, "1")
	return e
}

func (d *fakeDriver) testCase() *etree.Element {
	e := etree.NewElement(types.ElementTestCase)
	e.CreateAttr(types.AttrID, d.pkgID+"-1001")
	e.CreateAttr(types.AttrName, "TestOnly")
	e.CreateAttr(types.AttrFullName, d.path+".TestOnly")
	e.CreateAttr(types.AttrRunState, types.RunStateRunnable)
	return e
}

func (d *fakeDriver) Load(ctx context.Context, path string, settings map[string]any) (string, error) {
	d.mu.Lock()
	d.loads++
	d.mu.Unlock()
	if d.loadErr != nil {
		return "", d.loadErr
	}
	return results.ElementString(d.suite()), nil
}

func (d *fakeDriver) Explore(ctx context.Context, f filter.TestFilter) (string, error) {
	suite := d.suite()
	suite.AddChild(d.testCase())
	return results.ElementString(suite), nil
}

func (d *fakeDriver) CountTestCases(ctx context.Context, f filter.TestFilter) (int, error) {
	return 1, nil
}

func (d *fakeDriver) Run(ctx context.Context, listener events.Listener, f filter.TestFilter) (string, error) {
	d.mu.Lock()
	d.runs++
	d.mu.Unlock()
	if d.panicOnRun {
		panic("driver exploded")
	}
	if d.runErr != nil {
		return "", d.runErr
	}

	start := etree.NewElement(types.ElementStartSuite)
	start.CreateAttr(types.AttrID, d.suiteID())
	start.CreateAttr(types.AttrName, filepath.Base(d.path))
	start.CreateAttr(types.AttrType, types.SuiteTypeAssembly)
	listener.OnTestEvent(results.ElementString(start))

	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.block {
		select {
		case <-d.release:
		case <-ctx.Done():
		}
	}

	tc := d.testCase()
	tc.CreateAttr(types.AttrResult, string(d.result))
	if d.label != "" {
		tc.CreateAttr(types.AttrLabel, d.label)
	}
	listener.OnTestEvent(results.ElementString(tc))

	suite := results.Aggregate(types.ElementTestSuite, types.SuiteTypeAssembly, d.suiteID(),
		filepath.Base(d.path), d.path, []*etree.Element{tc})
	text := results.ElementString(suite)
	listener.OnTestEvent(text)
	return text, nil
}

func (d *fakeDriver) StopRun(force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if force {
		d.forcedStops++
		d.releaseOnce.Do(func() { close(d.release) })
	} else {
		d.stops++
	}
	return nil
}

// finish releases a blocked Run without a stop
func (d *fakeDriver) finish() {
	d.releaseOnce.Do(func() { close(d.release) })
}

func (d *fakeDriver) counts() (loads, runs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loads, d.runs
}

// fakeService hands out drivers by package path
type fakeService struct {
	mu      sync.Mutex
	drivers map[string]*fakeDriver
	errs    map[string]error
	calls   int
}

func newFakeService() *fakeService {
	return &fakeService{drivers: map[string]*fakeDriver{}, errs: map[string]error{}}
}

func (s *fakeService) add(pkg *types.TestPackage, result types.ResultState, label string) *fakeDriver {
	d := newFakeDriver(pkg, result, label)
	s.mu.Lock()
	s.drivers[pkg.FullName()] = d
	s.mu.Unlock()
	return d
}

func (s *fakeService) fail(pkg *types.TestPackage, err error) {
	s.mu.Lock()
	s.errs[pkg.FullName()] = err
	s.mu.Unlock()
}

func (s *fakeService) GetDriver(pkg *types.TestPackage) (drivers.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.errs[pkg.FullName()]; ok {
		return nil, err
	}
	d, ok := s.drivers[pkg.FullName()]
	if !ok {
		return nil, errors.New("no fake driver for " + pkg.FullName())
	}
	return d, nil
}

func (s *fakeService) getDriverCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type noopAnalyzer struct{}

func (noopAnalyzer) ApplyImageSettings(*types.TestPackage) {}

// recorder collects parsed events
type recorder struct {
	mu     sync.Mutex
	events []*etree.Element
}

func (r *recorder) OnTestEvent(report string) {
	e, err := results.ParseElement(report)
	if err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []*etree.Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*etree.Element(nil), r.events...)
}

func (r *recorder) withTag(tag string) []*etree.Element {
	var out []*etree.Element
	for _, e := range r.all() {
		if e.Tag == tag {
			out = append(out, e)
		}
	}
	return out
}

// composite builds a composite package with n leaves under /virtual
func composite(n int) (*types.TestPackage, []*types.TestPackage) {
	root := types.NewCompositePackage()
	leaves := make([]*types.TestPackage, n)
	for i := range leaves {
		leaves[i] = types.NewTestPackage(fmt.Sprintf("/virtual/pkg%d", i))
		root.AddSubPackage(leaves[i])
	}
	return root, leaves
}

// stubRunner is a Runner whose behavior is set per test
type stubRunner struct {
	NotRunnableRunner
	countPanic bool
	unloadErr  error
	disposed   bool
}

func (r *stubRunner) CountTestCases(ctx context.Context, f filter.TestFilter) (int, error) {
	if r.countPanic {
		panic("count exploded")
	}
	return 0, nil
}

func (r *stubRunner) Unload(context.Context) error { return r.unloadErr }

func (r *stubRunner) Dispose() error {
	r.disposed = true
	return nil
}

func newStubRunner(pkg *types.TestPackage) *stubRunner {
	return &stubRunner{NotRunnableRunner: *NewSkippedRunner(pkg, "stub")}
}
