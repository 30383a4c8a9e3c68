package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum-optimism/infra/op-testengine/events"
)

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	errs    int
}

// NewAsyncFile creates the file (and its directory) and starts the writer
func NewAsyncFile(path string) (*AsyncFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100),
	}
	af.wg.Add(1)
	go af.processQueue()
	return af, nil
}

// Write queues a copy of data
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	af.queue <- dataCopy
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			af.mu.Lock()
			af.errs++
			af.mu.Unlock()
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops accepting writes, flushes the queue and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if af.stopped {
		af.mu.Unlock()
		return nil
	}
	af.stopped = true
	close(af.queue)
	af.mu.Unlock()

	af.wg.Wait()
	if err := af.file.Close(); err != nil {
		return err
	}
	if af.errs > 0 {
		return fmt.Errorf("%d writes to %s failed", af.errs, af.file.Name())
	}
	return nil
}

// EventFileSink is a listener appending every test event to a file, one
// event per line. Writes happen on a background goroutine so a slow disk
// never holds up the event dispatcher.
type EventFileSink struct {
	path string
	out  *AsyncFile
}

var _ events.Listener = (*EventFileSink)(nil)

func NewEventFileSink(path string) (*EventFileSink, error) {
	out, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	return &EventFileSink{path: path, out: out}, nil
}

// OnTestEvent implements events.Listener. Events arriving after Close are
// dropped.
func (s *EventFileSink) OnTestEvent(report string) {
	_ = s.out.Write([]byte(report + "\n"))
}

// Path returns the file the sink writes to
func (s *EventFileSink) Path() string {
	return s.path
}

// Close flushes pending events and closes the file
func (s *EventFileSink) Close() error {
	return s.out.Close()
}
