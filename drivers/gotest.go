package drivers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/events"
	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/results"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

var _ Driver = (*GoTestDriver)(nil)

// GoTestDriverConfig configures a GoTestDriver
type GoTestDriverConfig struct {
	Log             log.Logger
	GoBinary        string
	OutputTailBytes int
}

type discoveredTest struct {
	id string
	TestFunction
}

// GoTestDriver runs one package directory with `go test -json` in a child
// process and translates the test2json stream into result fragments.
type GoTestDriver struct {
	packageID string
	log       log.Logger
	goBinary  string
	tailBytes int

	mu       sync.Mutex
	dir      string
	settings map[string]any
	module   *ModuleInfo
	tests    []discoveredTest

	procMu  sync.Mutex
	cmd     *exec.Cmd
	running bool
	stopped bool
	// forced records the kind of a stop that arrived before the process
	// was started
	forced bool
}

// NewGoTestDriver creates a driver whose test ids are namespaced by packageID
func NewGoTestDriver(packageID string, cfg GoTestDriverConfig) *GoTestDriver {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.GoBinary == "" {
		cfg.GoBinary = DefaultGoBinary
	}
	return &GoTestDriver{
		packageID: packageID,
		log:       cfg.Log.New("component", "go-test-driver", "package_id", packageID),
		goBinary:  cfg.GoBinary,
		tailBytes: cfg.OutputTailBytes,
	}
}

// Load discovers the package's tests and returns its Assembly suite
// without children
func (d *GoTestDriver) Load(ctx context.Context, path string, settings map[string]any) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve package path %q: %w", path, err)
	}
	if info, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("failed to stat package directory: %w", err)
	} else if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}

	module, err := FindModule(dir)
	if err != nil {
		return "", err
	}
	functions, err := FindTestFunctions(dir)
	if err != nil {
		return "", err
	}

	tests := make([]discoveredTest, len(functions))
	for i, fn := range functions {
		tests[i] = discoveredTest{
			id:           d.testID(firstSuiteID + 1 + i),
			TestFunction: fn,
		}
	}

	d.mu.Lock()
	d.dir = dir
	d.settings = settings
	d.module = module
	d.tests = tests
	d.mu.Unlock()

	d.log.Debug("Loaded package", "dir", dir, "import_path", module.ImportPath, "tests", len(tests))

	suite := d.assemblySuite()
	suite.CreateAttr(types.AttrTestCaseCount, strconv.Itoa(len(tests)))
	return results.ElementString(suite), nil
}

// Explore returns the Assembly suite with one test-case per selected test
func (d *GoTestDriver) Explore(ctx context.Context, f filter.TestFilter) (string, error) {
	selected, infos, err := d.selectTests(f)
	if err != nil {
		return "", err
	}
	suite := d.assemblySuite()
	suite.CreateAttr(types.AttrTestCaseCount, strconv.Itoa(len(selected)))
	for _, info := range infos {
		suite.AddChild(testCaseElement(info))
	}
	return results.ElementString(suite), nil
}

func (d *GoTestDriver) CountTestCases(ctx context.Context, f filter.TestFilter) (int, error) {
	selected, _, err := d.selectTests(f)
	if err != nil {
		return 0, err
	}
	return len(selected), nil
}

// Run executes the selected tests. Progress is reported as start-suite,
// start-test, test-case and a final test-suite notification.
func (d *GoTestDriver) Run(ctx context.Context, listener events.Listener, f filter.TestFilter) (string, error) {
	selected, infos, err := d.selectTests(f)
	if err != nil {
		return "", err
	}
	if listener == nil {
		listener = events.ListenerFunc(func(string) {})
	}

	d.procMu.Lock()
	d.running, d.stopped, d.forced = true, false, false
	d.procMu.Unlock()
	defer func() {
		d.procMu.Lock()
		d.running = false
		d.procMu.Unlock()
	}()

	start := time.Now()
	listener.OnTestEvent(results.ElementString(d.startSuiteEvent()))

	if len(selected) == 0 {
		suite := d.assemblySuite()
		suite.CreateAttr(types.AttrTestCaseCount, "0")
		suite.CreateAttr(types.AttrResult, string(types.ResultInconclusive))
		for _, key := range []string{types.AttrTotal, types.AttrPassed, types.AttrFailed, types.AttrWarnings,
			types.AttrInconclusive, types.AttrSkipped, types.AttrAsserts} {
			suite.CreateAttr(key, "0")
		}
		results.StampTimes(suite, start, time.Now())
		text := results.ElementString(suite)
		listener.OnTestEvent(text)
		return text, nil
	}

	stream := newEventStream(listener, selected, infos)
	waitErr, stderr, err := d.execute(ctx, selected, stream)
	if err != nil {
		return "", err
	}
	end := time.Now()

	stopped := d.wasStopped() || ctx.Err() != nil
	children := stream.finish(stopped)

	d.mu.Lock()
	name, fullName := filepath.Base(d.dir), d.dir
	d.mu.Unlock()
	suite := results.Aggregate(types.ElementTestSuite, types.SuiteTypeAssembly, d.suiteID(), name, fullName, children)

	switch {
	case stopped:
		suite.CreateAttr(types.AttrResult, string(types.ResultFailed))
		suite.CreateAttr(types.AttrLabel, types.LabelCancelled)
	case waitErr != nil && !isTestFailureExit(waitErr, stream.reported):
		suite.CreateAttr(types.AttrResult, string(types.ResultFailed))
		suite.CreateAttr(types.AttrLabel, types.LabelError)
		suite.RemoveAttr(types.AttrSite)
		results.AddFailure(suite, executionFailure(waitErr, stderr, stream), "")
	}
	results.StampTimes(suite, start, end)
	if output := strings.TrimSpace(stream.packageOutput.String()); output != "" {
		suite.CreateElement("output").CreateCData(output)
	}

	d.log.Info("Finished tests", "dir", fullName,
		"result", suite.SelectAttrValue(types.AttrResult, ""),
		"passed", suite.SelectAttrValue(types.AttrPassed, "0"),
		"failed", suite.SelectAttrValue(types.AttrFailed, "0"),
		"duration", end.Sub(start))

	text := results.ElementString(suite)
	listener.OnTestEvent(text)
	return text, nil
}

// execute runs go test and feeds its output to stream. It does not start
// the process when the run was stopped first.
func (d *GoTestDriver) execute(ctx context.Context, selected []discoveredTest, stream *eventStream) (waitErr error, stderr *tailBuffer, err error) {
	if d.wasStopped() || ctx.Err() != nil {
		d.log.Info("Run stopped before go test started")
		return nil, nil, nil
	}
	cmd, stderr, err := d.command(ctx, selected)
	if err != nil {
		return nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open go test output: %w", err)
	}

	d.log.Info("Running tests", "dir", cmd.Dir, "tests", len(selected))
	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to start go test: %w", err)
	}
	d.setCommand(cmd)
	defer d.setCommand(nil)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		stream.handleLine(scanner.Bytes())
	}
	return cmd.Wait(), stderr, nil
}

// StopRun interrupts the running go test process group, or kills it when
// force is set. A stop arriving while a run is starting is applied as soon
// as the process exists. It is a no-op when nothing is running.
func (d *GoTestDriver) StopRun(force bool) error {
	d.procMu.Lock()
	defer d.procMu.Unlock()
	if !d.running {
		return nil
	}
	d.stopped = true
	if d.cmd == nil || d.cmd.Process == nil {
		d.forced = d.forced || force
		return nil
	}
	return d.signal(force)
}

// signal must be called with procMu held
func (d *GoTestDriver) signal(force bool) error {
	if force {
		d.log.Warn("Killing go test process", "pid", d.cmd.Process.Pid)
		return killProcessGroup(d.cmd)
	}
	d.log.Info("Interrupting go test process", "pid", d.cmd.Process.Pid)
	return interruptProcessGroup(d.cmd)
}

func (d *GoTestDriver) command(ctx context.Context, selected []discoveredTest) (*exec.Cmd, *tailBuffer, error) {
	d.mu.Lock()
	dir, settings := d.dir, d.settings
	d.mu.Unlock()

	args := buildTestArgs(selected, settings)
	cmd := exec.CommandContext(ctx, d.goBinary, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	if types.SettingFrom(settings, types.RunAsX86, false) {
		cmd.Env = append(cmd.Env, "GOARCH="+ArchX86)
	}
	configureProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = stopWaitDelay

	stderr := newTailBuffer(d.tailBytes)
	cmd.Stderr = stderr
	return cmd, stderr, nil
}

func buildTestArgs(selected []discoveredTest, settings map[string]any) []string {
	names := make([]string, len(selected))
	for i, t := range selected {
		names[i] = t.Name
	}
	args := []string{TestCommand, JSONFlag, VerboseFlag, CountFlag, DisableCache,
		RunFlag, fmt.Sprintf("^(%s)$", strings.Join(names, "|"))}

	if timeout := types.SettingFrom(settings, types.DefaultTimeout, time.Duration(0)); timeout > 0 {
		args = append(args, TimeoutFlag, timeout.String())
	}
	if workers := types.SettingFrom(settings, types.NumberOfTestWorkers, 0); workers > 0 {
		args = append(args, ParallelFlag, strconv.Itoa(workers))
	}
	return append(args, CurrentDir)
}

func (d *GoTestDriver) selectTests(f filter.TestFilter) ([]discoveredTest, []filter.TestInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.module == nil {
		return nil, nil, errors.New("package is not loaded")
	}
	var selected []discoveredTest
	var infos []filter.TestInfo
	for _, t := range d.tests {
		info := d.testInfo(t)
		if f.Match(info) {
			selected = append(selected, t)
			infos = append(infos, info)
		}
	}
	return selected, infos, nil
}

// testInfo must be called with d.mu held
func (d *GoTestDriver) testInfo(t discoveredTest) filter.TestInfo {
	return filter.TestInfo{
		ID:         t.id,
		Name:       t.Name,
		FullName:   d.module.ImportPath + "." + t.Name,
		ClassName:  d.module.ImportPath,
		MethodName: t.Name,
		Categories: t.Categories,
	}
}

func (d *GoTestDriver) testID(n int) string {
	return d.packageID + "-" + strconv.Itoa(n)
}

func (d *GoTestDriver) suiteID() string {
	return d.testID(firstSuiteID)
}

func (d *GoTestDriver) assemblySuite() *etree.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := etree.NewElement(types.ElementTestSuite)
	e.CreateAttr(types.AttrType, types.SuiteTypeAssembly)
	e.CreateAttr(types.AttrID, d.suiteID())
	e.CreateAttr(types.AttrName, filepath.Base(d.dir))
	e.CreateAttr(types.AttrFullName, d.dir)
	e.CreateAttr(types.AttrRunState, types.RunStateRunnable)
	if d.module != nil {
		props := e.CreateElement("properties")
		for _, prop := range [][2]string{
			{"_IMPORTPATH", d.module.ImportPath},
			{"_GOVERSION", d.module.GoVersion},
		} {
			if prop[1] == "" {
				continue
			}
			p := props.CreateElement("property")
			p.CreateAttr("name", prop[0])
			p.CreateAttr("value", prop[1])
		}
	}
	return e
}

func (d *GoTestDriver) startSuiteEvent() *etree.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := etree.NewElement(types.ElementStartSuite)
	e.CreateAttr(types.AttrID, d.suiteID())
	e.CreateAttr(types.AttrName, filepath.Base(d.dir))
	e.CreateAttr(types.AttrFullName, d.dir)
	e.CreateAttr(types.AttrType, types.SuiteTypeAssembly)
	return e
}

func (d *GoTestDriver) setCommand(cmd *exec.Cmd) {
	d.procMu.Lock()
	defer d.procMu.Unlock()
	d.cmd = cmd
	if cmd != nil && d.stopped {
		if err := d.signal(d.forced); err != nil {
			d.log.Warn("Failed to stop go test process", "err", err)
		}
	}
}

func (d *GoTestDriver) wasStopped() bool {
	d.procMu.Lock()
	defer d.procMu.Unlock()
	return d.stopped
}

// isTestFailureExit reports whether go test exited 1 after reporting
// results, which is how it signals failing tests
func isTestFailureExit(err error, reported int) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && reported > 0
}

func executionFailure(err error, stderr *tailBuffer, stream *eventStream) string {
	detail := strings.TrimSpace(stderr.String())
	if detail == "" {
		detail = strings.TrimSpace(stream.packageOutput.String())
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Sprintf("failed to run go test: %v", err)
	}
	if exitErr.ExitCode() == 2 || stream.reported == 0 {
		return fmt.Sprintf("test compilation failed: %s", detail)
	}
	return fmt.Sprintf("test execution failed with exit code %d: %s", exitErr.ExitCode(), detail)
}
