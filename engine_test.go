package testengine

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

const (
	passingTests = "package pass\n\nimport \"testing\"\n\nfunc TestOne(t *testing.T) {}\n\nfunc TestTwo(t *testing.T) {}\n"
	failingTests = "package fail\n\nimport \"testing\"\n\nfunc TestOK(t *testing.T) {}\n\nfunc TestBad(t *testing.T) {\n\tt.Fatal(\"boom\")\n}\n"
	testManifest = "name: engine-test\npackages:\n  - path: ./pass\n  - path: ./fail\n"
)

func requireGo(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available")
	}
}

// writeWorkspace lays out a manifest and one module per package directory
func writeWorkspace(t *testing.T, manifest string, packages map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "testengine.yaml"), manifest)
	for name, tests := range packages {
		writeFile(t, filepath.Join(dir, name, "go.mod"), "module example.com/"+name+"\n\ngo 1.21\n")
		writeFile(t, filepath.Join(dir, name, name+"_test.go"), tests)
	}
	return dir
}

func newTestEngine(t *testing.T, dir string, modify func(cfg *Config)) (*Engine, *bytes.Buffer, chan error) {
	t.Helper()
	cfg := &Config{
		ManifestFile: filepath.Join(dir, "testengine.yaml"),
		GoBinary:     "go",
		RunOnce:      true,
		ResultFile:   filepath.Join(dir, "out", "TestResult.xml"),
		Overrides:    map[string]any{},
		Filter:       filter.Empty,
		Log:          testLogger(),
	}
	if modify != nil {
		modify(cfg)
	}
	shutdown := make(chan error, 1)
	e, err := New(context.Background(), cfg, "v0.0.0-test", func(err error) { shutdown <- err })
	require.NoError(t, err)
	out := &bytes.Buffer{}
	e.out = out
	return e, out, shutdown
}

func readResultFile(t *testing.T, path string) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromFile(path))
	root := doc.Root()
	require.NotNil(t, root)
	return root
}

func waitShutdown(t *testing.T, shutdown <-chan error) {
	t.Helper()
	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback not called")
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), nil, "v0", nil)
	require.Error(t, err)

	dir := t.TempDir()
	_, err = New(context.Background(), &Config{
		ManifestFile: filepath.Join(dir, "missing.yaml"),
		Log:          testLogger(),
	}, "v0", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create registry")
}

func TestEngine_RunOncePassing(t *testing.T) {
	requireGo(t)
	dir := writeWorkspace(t, "packages:\n  - path: ./pass\n", map[string]string{"pass": passingTests})
	e, out, shutdown := newTestEngine(t, dir, nil)

	require.NoError(t, e.Start(context.Background()))
	waitShutdown(t, shutdown)
	require.NoError(t, e.Stop(context.Background()))
	assert.True(t, e.Stopped())

	summary := e.LastSummary()
	require.NotNil(t, summary)
	assert.False(t, summary.Failed())
	assert.Equal(t, 2, summary.Passed)

	run := readResultFile(t, filepath.Join(dir, "out", "TestResult.xml"))
	assert.Equal(t, types.ElementTestRun, run.Tag)
	assert.Equal(t, string(types.ResultPassed), run.SelectAttrValue(types.AttrResult, ""))
	assert.Contains(t, out.String(), "TestOne")
	assert.Contains(t, out.String(), "Passed")
}

func TestEngine_RunOnceFailing(t *testing.T) {
	requireGo(t)
	dir := writeWorkspace(t, testManifest, map[string]string{"pass": passingTests, "fail": failingTests})
	e, out, _ := newTestEngine(t, dir, func(cfg *Config) {
		cfg.EventLog = filepath.Join(dir, "out", "events.log")
	})

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.False(t, IsRuntimeError(err))
	require.NoError(t, e.Stop(context.Background()))

	summary := e.LastSummary()
	require.NotNil(t, summary)
	assert.True(t, summary.Failed())
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 1, summary.Counts.Failed)
	assert.Len(t, summary.Packages, 2)
	assert.Contains(t, out.String(), "TestBad")

	var failure *TestFailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, summary.RunID, failure.RunID)
	assert.Equal(t, 1, failure.Failed)

	run := readResultFile(t, filepath.Join(dir, "out", "TestResult.xml"))
	assert.Equal(t, string(types.ResultFailed), run.SelectAttrValue(types.AttrResult, ""))

	events, err := os.ReadFile(filepath.Join(dir, "out", "events.log"))
	require.NoError(t, err)
	assert.Contains(t, string(events), "<start-run")
	assert.Contains(t, string(events), `engine-version="v0.0.0-test"`)
	assert.Contains(t, string(events), "<test-run")
}

func TestEngine_RunOnceFiltered(t *testing.T) {
	requireGo(t)
	dir := writeWorkspace(t, testManifest, map[string]string{"pass": passingTests, "fail": failingTests})
	selection, err := filter.NewBuilder().AddTest("TestOK").AddTest("TestOne").Build()
	require.NoError(t, err)
	e, _, shutdown := newTestEngine(t, dir, func(cfg *Config) {
		cfg.Filter = selection
	})

	require.NoError(t, e.Start(context.Background()))
	waitShutdown(t, shutdown)
	require.NoError(t, e.Stop(context.Background()))

	summary := e.LastSummary()
	require.NotNil(t, summary)
	assert.False(t, summary.Failed())
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 0, summary.Counts.Failed)
}

func TestEngine_Explore(t *testing.T) {
	requireGo(t)
	dir := writeWorkspace(t, testManifest, map[string]string{"pass": passingTests, "fail": failingTests})
	e, out, shutdown := newTestEngine(t, dir, func(cfg *Config) {
		cfg.Explore = true
	})

	require.NoError(t, e.Start(context.Background()))
	waitShutdown(t, shutdown)
	require.NoError(t, e.Stop(context.Background()))

	assert.Nil(t, e.LastSummary(), "explore mode does not run tests")
	assert.Contains(t, out.String(), "Found 4 tests in 2 packages")

	run := readResultFile(t, filepath.Join(dir, "out", "TestResult.xml"))
	cases := run.FindElements(".//" + types.ElementTestCase)
	require.Len(t, cases, 4)
	for _, c := range cases {
		assert.Empty(t, c.SelectAttrValue(types.AttrResult, ""), "explored tests carry no result")
	}
}

func TestEngine_Watch(t *testing.T) {
	requireGo(t)
	dir := writeWorkspace(t, "packages:\n  - path: ./pass\n", map[string]string{"pass": passingTests})
	e, _, _ := newTestEngine(t, dir, func(cfg *Config) {
		cfg.RunOnce = false
		cfg.Watch = true
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	first := e.LastSummary()
	require.NotNil(t, first)
	assert.False(t, first.Failed())

	broken := "package pass\n\nimport \"testing\"\n\nfunc TestOne(t *testing.T) {\n\tt.Fatal(\"broken\")\n}\n\nfunc TestTwo(t *testing.T) {}\n"
	writeFile(t, filepath.Join(dir, "pass", "pass_test.go"), broken)

	require.Eventually(t, func() bool {
		s := e.LastSummary()
		return s != nil && s.Failed()
	}, time.Minute, 100*time.Millisecond, "change was not picked up")

	require.NoError(t, e.Stop(context.Background()))
	assert.True(t, e.Stopped())
	assert.NoError(t, e.Stop(context.Background()), "stopping twice should be harmless")
}

func TestEngine_OverridesApplyToTree(t *testing.T) {
	manifest := "settings:\n  MaxAgents: 4\n  DisposeRunners: true\npackages:\n  - path: ./pass\n    settings:\n      MaxAgents: 8\n"
	dir := writeWorkspace(t, manifest, map[string]string{"pass": passingTests})
	e, _, _ := newTestEngine(t, dir, func(cfg *Config) {
		cfg.Overrides = map[string]any{types.MaxAgents: 1}
	})

	pkg, err := e.buildPackage()
	require.NoError(t, err)
	leaves := pkg.Leaves()
	require.Len(t, leaves, 1)
	assert.Equal(t, 1, types.GetSetting(leaves[0], types.MaxAgents, 0))
	assert.True(t, types.GetSetting(leaves[0], types.DisposeRunners, false))
	require.NoError(t, e.Stop(context.Background()))
}
