package engagement

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed engagement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const engagementColumns = `id, firm_id, client_id, pricing_mode, package_fee_cents, package_cadence,
       default_hourly_rate_cents, start_date, end_date, status, parent_engagement_id,
       created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, e *Engagement) error {
	query := `
		INSERT INTO engagements (id, firm_id, client_id, pricing_mode, package_fee_cents,
			package_cadence, default_hourly_rate_cents, start_date, end_date, status,
			parent_engagement_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		e.ID, e.FirmID, e.ClientID, e.PricingMode, e.PackageFee, e.PackageCadence,
		e.DefaultHourlyRate, e.StartDate, e.EndDate, e.Status, e.ParentEngagementID,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create engagement: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, firmID, id string) (*Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements WHERE firm_id = $1 AND id = $2`
	e, err := scanEngagement(s.db.QueryRowContext(ctx, query, firmID, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get engagement: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListCurrent(ctx context.Context, firmID string) ([]*Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements WHERE status = 'current'`
	args := []any{}
	if firmID != "" {
		query += ` AND firm_id = $1`
		args = append(args, firmID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list engagements: %w", err)
	}
	defer rows.Close()

	var out []*Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan engagement: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetStatus(ctx context.Context, firmID, id string, status Status) error {
	query := `UPDATE engagements SET status = $1, updated_at = NOW() WHERE firm_id = $2 AND id = $3`
	result, err := s.db.ExecContext(ctx, query, status, firmID, id)
	if err != nil {
		return fmt.Errorf("failed to update engagement status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEngagement(row rowScanner) (*Engagement, error) {
	e := &Engagement{}
	var parent sql.NullString
	err := row.Scan(
		&e.ID, &e.FirmID, &e.ClientID, &e.PricingMode, &e.PackageFee, &e.PackageCadence,
		&e.DefaultHourlyRate, &e.StartDate, &e.EndDate, &e.Status, &parent,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		e.ParentEngagementID = &parent.String
	}
	return e, nil
}
