package testengine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Change describes what a Watcher saw since the last notification
type Change struct {
	Manifest bool     // The manifest file changed
	Packages []string // Package directories with changed Go sources
}

// Watcher reports changes to the manifest and to the Go sources of the
// package directories. Bursts of file events are merged into one Change
// delivered after the debounce period passes without new events.
type Watcher struct {
	log      log.Logger
	fsw      *fsnotify.Watcher
	manifest string
	debounce time.Duration
	onChange func(Change)

	mu       sync.Mutex
	packages map[string]struct{}
	pending  Change
	seen     map[string]struct{}

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher watches the directory of manifest and every directory in
// packages. Directories are watched non-recursively, matching how a Go
// package maps to one directory.
func NewWatcher(logger log.Logger, manifest string, packages []string, debounce time.Duration, onChange func(Change)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	w := &Watcher{
		log:      logger.New("component", "watcher"),
		fsw:      fsw,
		manifest: filepath.Clean(manifest),
		debounce: debounce,
		onChange: onChange,
		packages: make(map[string]struct{}),
		seen:     make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	// Editors replace files by renaming, so watch the directory rather than
	// the manifest itself
	if err := fsw.Add(filepath.Dir(w.manifest)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch manifest directory: %w", err)
	}
	w.SetPackages(packages)
	return w, nil
}

// SetPackages replaces the set of watched package directories
func (w *Watcher) SetPackages(dirs []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	want := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		want[filepath.Clean(dir)] = struct{}{}
	}
	manifestDir := filepath.Dir(w.manifest)
	for dir := range w.packages {
		if _, ok := want[dir]; !ok && dir != manifestDir {
			_ = w.fsw.Remove(dir)
		}
	}
	for dir := range want {
		if _, ok := w.packages[dir]; ok {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			// missing directories are reported by the run as invalid packages
			w.log.Debug("Not watching package directory", "dir", dir, "err", err)
		}
	}
	w.packages = want
}

// Start begins delivering changes until ctx is done or Stop is called
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.eventLoop(ctx)
	w.log.Info("File watcher started", "manifest", w.manifest)
}

// Stop stops the watcher and releases resources
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.doneCh
	}
	return w.fsw.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.record(event) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("File watcher error", "err", err)
		case <-timer.C:
			w.flush()
		}
	}
}

// record adds a relevant event to the pending change
func (w *Watcher) record(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if name == w.manifest {
		w.pending.Manifest = true
		return true
	}
	dir := filepath.Dir(name)
	if _, ok := w.packages[dir]; !ok || !isGoSource(name) {
		return false
	}
	if _, ok := w.seen[dir]; !ok {
		w.seen[dir] = struct{}{}
		w.pending.Packages = append(w.pending.Packages, dir)
	}
	return true
}

func (w *Watcher) flush() {
	w.mu.Lock()
	change := w.pending
	w.pending = Change{}
	w.seen = make(map[string]struct{})
	w.mu.Unlock()

	if !change.Manifest && len(change.Packages) == 0 {
		return
	}
	w.log.Info("Detected changes", "manifest", change.Manifest, "packages", len(change.Packages))
	w.onChange(change)
}

func isGoSource(name string) bool {
	base := filepath.Base(name)
	return (strings.HasSuffix(base, ".go") || base == "go.mod" || base == "go.sum") &&
		!strings.HasPrefix(base, ".")
}
