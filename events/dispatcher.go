// Package events fans test progress notifications out to listeners and
// tracks which suites are still in flight.
//
// Every notification is a self-contained XML element. Recognized kinds are
// start-run, start-suite, start-test, test-case, test-suite, test-run and
// unhandled-exception.
package events

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Listener receives test progress notifications
type Listener interface {
	OnTestEvent(report string)
}

// ListenerFunc adapts a function to the Listener interface
type ListenerFunc func(report string)

func (f ListenerFunc) OnTestEvent(report string) {
	f(report)
}

// Dispatcher forwards each notification to every registered listener.
//
// Listeners are invoked while the dispatcher lock is held, so deliveries
// never interleave. A listener must return quickly and must not call back
// into the dispatcher; doing so deadlocks.
type Dispatcher struct {
	log       log.Logger
	mu        sync.Mutex
	listeners []Listener
	closed    bool
}

// NewDispatcher creates a dispatcher; nil listeners are ignored
func NewDispatcher(logger log.Logger, listeners ...Listener) *Dispatcher {
	if logger == nil {
		logger = log.New()
	}
	d := &Dispatcher{log: logger.New("component", "event-dispatcher")}
	for _, l := range listeners {
		d.AddListener(l)
	}
	return d
}

// AddListener registers l for subsequent notifications
func (d *Dispatcher) AddListener(l Listener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// OnTestEvent delivers report to every listener. Notifications arriving
// after Terminate are dropped.
func (d *Dispatcher) OnTestEvent(report string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Trace("Dropping event after terminal notification", "event", report)
		return
	}
	d.deliver(report)
}

// Terminate delivers the terminal notification of a run and closes the
// dispatcher. It returns false, without delivering, when the dispatcher was
// already closed, so a run's terminal event is sent exactly once.
func (d *Dispatcher) Terminate(report string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.deliver(report)
	d.closed = true
	return true
}

// Closed reports whether Terminate has been called
func (d *Dispatcher) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) deliver(report string) {
	for _, l := range d.listeners {
		d.notify(l, report)
	}
}

// notify isolates the remaining listeners from one that panics
func (d *Dispatcher) notify(l Listener, report string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Listener panicked", "panic", r)
		}
	}()
	l.OnTestEvent(report)
}
