package audit

import (
	"context"
	"errors"
	"sync"
)

// MultiLogger fans events out to several sinks. A failing sink does not
// prevent delivery to the others.
type MultiLogger struct {
	mu      sync.RWMutex
	loggers []Logger
}

// NewMultiLogger creates a fan-out sink.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Add registers an additional sink.
func (m *MultiLogger) Add(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loggers = append(m.loggers, logger)
}

// Log delivers the event to every sink and joins any failures.
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *MultiLogger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder is an in-memory sink that retains every event it receives.
// Tests assert against its contents.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Log(ctx context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a snapshot of recorded events.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByAction returns recorded events matching the action.
func (r *Recorder) ByAction(action Action) []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Event
	for _, e := range r.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
