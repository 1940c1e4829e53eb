package audit

import (
	"context"
	"time"
)

// Logger is the interface billing components emit audit events through.
type Logger interface {
	// Log records an audit event. Implementations must not block the
	// calling financial operation on sink failures.
	Log(ctx context.Context, event *Event) error

	// Close flushes any buffered events.
	Close() error
}

// Emit builds and logs an event in one call. The error is intentionally
// swallowed: audit sinks are fire-and-forget from the caller's perspective
// and implementations report their own failures.
func Emit(ctx context.Context, logger Logger, firmID string, action Action, actor *string, severity Severity, metadata map[string]any) {
	if logger == nil {
		return
	}
	_ = logger.Log(ctx, &Event{
		Timestamp: time.Now().UTC(),
		FirmID:    firmID,
		Action:    action,
		Actor:     actor,
		Severity:  severity,
		Metadata:  metadata,
	})
}

// NopLogger discards all events. Used in tests and as a wiring default so
// callers never need a nil check.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                { return nil }
