package drivers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeModule lays out a throwaway module in a temp dir and returns it
func writeModule(t *testing.T, modulePath string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	files["go.mod"] = "module " + modulePath + "\n\ngo 1.21\n"
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func TestFindTestFunctions(t *testing.T) {
	dir := writeModule(t, "example.com/widgets", map[string]string{
		"b_test.go": `package widgets

import "testing"

func TestBeta(t *testing.T) {}

// Category: Slow, Integration
func TestGamma(t *testing.T) {}
`,
		"a_test.go": `package widgets

import "testing"

func TestMain(m *testing.M) { m.Run() }

func TestAlpha(t *testing.T) {}

func Testlowercase(t *testing.T) {}

func helper() {}

func BenchmarkAlpha(b *testing.B) {}
`,
		"widgets.go": "package widgets\n",
	})

	tests, err := FindTestFunctions(dir)
	require.NoError(t, err)
	require.Len(t, tests, 3)

	assert.Equal(t, "TestAlpha", tests[0].Name)
	assert.Equal(t, "a_test.go", tests[0].File)
	assert.Equal(t, "TestBeta", tests[1].Name)
	assert.Empty(t, tests[1].Categories)
	assert.Equal(t, "TestGamma", tests[2].Name)
	assert.Equal(t, []string{"Slow", "Integration"}, tests[2].Categories)
}

func TestFindTestFunctions_Errors(t *testing.T) {
	_, err := FindTestFunctions(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	dir := writeModule(t, "example.com/broken", map[string]string{
		"broken_test.go": "package broken\n\nfunc TestBroken(t *testing.T {\n",
	})
	_, err = FindTestFunctions(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken_test.go")
}

func TestIsTestName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Test", true},
		{"TestFoo", true},
		{"Test_foo", true},
		{"Test1", true},
		{"Testfoo", false},
		{"TestMain", false},
		{"ExampleFoo", false},
		{"testFoo", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTestName(tt.name))
		})
	}
}

func TestHasTestFiles(t *testing.T) {
	dir := writeModule(t, "example.com/mixed", map[string]string{
		"lib/lib.go":         "package lib\n",
		"tested/x_test.go":   "package tested\n",
		"tested/internal.go": "package tested\n",
	})
	assert.False(t, HasTestFiles(filepath.Join(dir, "lib")))
	assert.True(t, HasTestFiles(filepath.Join(dir, "tested")))
	assert.False(t, HasTestFiles(filepath.Join(dir, "nope")))
}

func TestFindModule(t *testing.T) {
	dir := writeModule(t, "example.com/deep", map[string]string{
		"a/b/c/c.go": "package c\n",
	})

	root, err := FindModule(dir)
	require.NoError(t, err)
	assert.Equal(t, "example.com/deep", root.Path)
	assert.Equal(t, "example.com/deep", root.ImportPath)
	assert.Equal(t, "1.21", root.GoVersion)

	nested, err := FindModule(filepath.Join(dir, "a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, "example.com/deep/a/b/c", nested.ImportPath)
	assert.Equal(t, root.Dir, nested.Dir)
}

func TestFindModule_Invalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("go 1.21\n"), 0644))
	_, err := FindModule(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module name")
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(5)
	_, _ = b.Write([]byte("abc"))
	assert.Equal(t, "abc", b.String())
	assert.False(t, b.Truncated())

	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "cdefg", b.String())
	assert.True(t, b.Truncated())
}
