package testengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 50 * time.Millisecond

func startWatcher(t *testing.T, manifest string, packages []string) (*Watcher, <-chan Change) {
	t.Helper()
	changes := make(chan Change, 10)
	w, err := NewWatcher(testLogger(), manifest, packages, testDebounce, func(c Change) {
		changes <- c
	})
	require.NoError(t, err)
	w.Start(context.Background())
	t.Cleanup(func() { _ = w.Stop() })
	return w, changes
}

func waitChange(t *testing.T, changes <-chan Change) Change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
		return Change{}
	}
}

func assertNoChange(t *testing.T, changes <-chan Change) {
	t.Helper()
	select {
	case c := <-changes:
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(4 * testDebounce):
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestWatcher_ManifestChange(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "testengine.yaml")
	writeFile(t, manifest, "packages: []\n")

	_, changes := startWatcher(t, manifest, nil)
	writeFile(t, manifest, "packages:\n  - path: ./a\n")

	c := waitChange(t, changes)
	assert.True(t, c.Manifest)
	assert.Empty(t, c.Packages)
}

func TestWatcher_PackageChanges(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "testengine.yaml")
	writeFile(t, manifest, "packages: []\n")
	pkgA := filepath.Join(dir, "a")
	pkgB := filepath.Join(dir, "b")
	writeFile(t, filepath.Join(pkgA, "a_test.go"), "package a\n")
	writeFile(t, filepath.Join(pkgB, "b_test.go"), "package b\n")

	_, changes := startWatcher(t, manifest, []string{pkgA, pkgB})

	// a burst across both packages is merged into one change
	writeFile(t, filepath.Join(pkgA, "a_test.go"), "package a\n\n")
	writeFile(t, filepath.Join(pkgA, "extra.go"), "package a\n")
	writeFile(t, filepath.Join(pkgB, "b_test.go"), "package b\n\n")

	c := waitChange(t, changes)
	assert.False(t, c.Manifest)
	assert.ElementsMatch(t, []string{pkgA, pkgB}, c.Packages)
}

func TestWatcher_IgnoresIrrelevantFiles(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "testengine.yaml")
	writeFile(t, manifest, "packages: []\n")
	pkg := filepath.Join(dir, "a")
	writeFile(t, filepath.Join(pkg, "a_test.go"), "package a\n")

	_, changes := startWatcher(t, manifest, []string{pkg})

	writeFile(t, filepath.Join(pkg, "README.md"), "docs\n")
	writeFile(t, filepath.Join(pkg, ".a_test.go.swp"), "swap\n")
	writeFile(t, filepath.Join(dir, "other.yaml"), "x: 1\n")
	assertNoChange(t, changes)
}

func TestWatcher_SetPackages(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "testengine.yaml")
	writeFile(t, manifest, "packages: []\n")
	pkgA := filepath.Join(dir, "a")
	pkgB := filepath.Join(dir, "b")
	writeFile(t, filepath.Join(pkgA, "a_test.go"), "package a\n")
	writeFile(t, filepath.Join(pkgB, "b_test.go"), "package b\n")

	w, changes := startWatcher(t, manifest, []string{pkgA})
	w.SetPackages([]string{pkgB})

	writeFile(t, filepath.Join(pkgA, "a_test.go"), "package a\n\n")
	assertNoChange(t, changes)

	writeFile(t, filepath.Join(pkgB, "b_test.go"), "package b\n\n")
	c := waitChange(t, changes)
	assert.Equal(t, []string{pkgB}, c.Packages)
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "testengine.yaml")
	writeFile(t, manifest, "packages: []\n")

	w, err := NewWatcher(testLogger(), manifest, nil, 0, func(Change) {})
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
}

func TestIsGoSource(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"/x/a.go", true},
		{"/x/a_test.go", true},
		{"/x/go.mod", true},
		{"/x/go.sum", true},
		{"/x/.a.go", false},
		{"/x/README.md", false},
		{"/x/a.go.swp", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isGoSource(tt.name))
		})
	}
}
