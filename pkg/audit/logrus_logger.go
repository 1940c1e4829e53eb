package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as structured log lines.
type LogrusLogger struct {
	log *logrus.Logger
}

// NewLogrusLogger creates a log-backed audit sink.
func NewLogrusLogger(log *logrus.Logger) *LogrusLogger {
	if log == nil {
		log = logrus.New()
	}
	return &LogrusLogger{log: log}
}

// Log writes the event at a log level matching its severity.
func (l *LogrusLogger) Log(ctx context.Context, event *Event) error {
	fields := logrus.Fields{
		"audit":   true,
		"firm_id": event.FirmID,
		"action":  string(event.Action),
	}
	if event.Actor != nil {
		fields["actor"] = *event.Actor
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.log.WithFields(fields)
	switch event.Severity {
	case SeverityCritical:
		entry.Error(string(event.Action))
	case SeverityWarning:
		entry.Warn(string(event.Action))
	default:
		entry.Info(string(event.Action))
	}
	return nil
}

// Close is a no-op; logrus owns its output.
func (l *LogrusLogger) Close() error { return nil }
