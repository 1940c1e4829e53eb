package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBLogger writes audit events to a PostgreSQL audit_events table.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit sink and ensures the table
// exists.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		firm_id VARCHAR(64) NOT NULL,
		action VARCHAR(100) NOT NULL,
		actor VARCHAR(255),
		severity VARCHAR(20) NOT NULL,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_firm ON audit_events(firm_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action);
	CREATE INDEX IF NOT EXISTS idx_audit_events_severity ON audit_events(severity);
	`
	_, err := l.db.Exec(query)
	return err
}

// Log inserts the event. The returned id is written back onto the event.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON []byte
	var err error
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (timestamp, firm_id, action, actor, severity, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, event.FirmID, event.Action, event.Actor, event.Severity, metadataJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// List returns recent events for a firm, newest first.
func (l *DBLogger) List(ctx context.Context, firmID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, timestamp, firm_id, action, actor, severity, metadata
		FROM audit_events
		WHERE firm_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, query, firmID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var actor sql.NullString
		var metadataJSON []byte
		var ts time.Time
		if err := rows.Scan(&event.ID, &ts, &event.FirmID, &event.Action, &actor, &event.Severity, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Timestamp = ts
		if actor.Valid {
			event.Actor = &actor.String
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Close is a no-op; the caller owns the connection pool.
func (l *DBLogger) Close() error { return nil }
