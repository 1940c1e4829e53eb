package timeentry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed time entry store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, firm_id, engagement_id, description, entry_date, hours, hourly_rate_cents,
       approved, approved_by, approved_at, invoiced, invoice_id, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, e *Entry) error {
	query := `
		INSERT INTO time_entries (id, firm_id, engagement_id, description, entry_date,
			hours, hourly_rate_cents, approved, approved_by, approved_at, invoiced, invoice_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		e.ID, e.FirmID, e.EngagementID, e.Description, e.Date, e.Hours, e.HourlyRate,
		e.Approved, e.ApprovedBy, e.ApprovedAt, e.Invoiced, e.InvoiceID,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create time entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, firmID, id string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM time_entries WHERE firm_id = $1 AND id = $2`
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, firmID, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get time entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) SetApproval(ctx context.Context, firmID, id string, approved bool, approvedBy *string, approvedAt *time.Time) error {
	// The invoiced guard backs up the gate's check so a raced invoicing
	// run cannot lose an approval revocation ordering fight.
	query := `
		UPDATE time_entries
		SET approved = $1, approved_by = $2, approved_at = $3, updated_at = NOW()
		WHERE firm_id = $4 AND id = $5 AND invoiced = FALSE
	`
	result, err := s.db.ExecContext(ctx, query, approved, approvedBy, approvedAt, firmID, id)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish missing from immutable for the caller.
		if _, getErr := s.Get(ctx, firmID, id); getErr != nil {
			return getErr
		}
		return ErrImmutableAfterInvoicing
	}
	return nil
}

func (s *PostgresStore) BillableEntries(ctx context.Context, firmID, engagementID string, asOf time.Time) ([]*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM time_entries
		WHERE firm_id = $1 AND engagement_id = $2
		  AND approved = TRUE AND invoiced = FALSE AND entry_date <= $3
		ORDER BY entry_date, id
	`
	rows, err := s.db.QueryContext(ctx, query, firmID, engagementID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query billable entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan time entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkInvoiced(ctx context.Context, firmID string, entryIDs []string, invoiceID string) error {
	if len(entryIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The approved/invoiced guards make the update a conditional write: a
	// row that lost the race (or was never approved) is simply not updated,
	// and the count mismatch below aborts the transaction.
	query := `
		UPDATE time_entries
		SET invoiced = TRUE, invoice_id = $1, updated_at = NOW()
		WHERE firm_id = $2 AND id = ANY($3)
		  AND approved = TRUE AND invoiced = FALSE
	`
	result, err := tx.ExecContext(ctx, query, invoiceID, firmID, pq.Array(entryIDs))
	if err != nil {
		return fmt.Errorf("failed to mark entries invoiced: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != int64(len(entryIDs)) {
		return fmt.Errorf("marked %d of %d entries: %w", n, len(entryIDs), ErrNotApproved)
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	e := &Entry{}
	var approvedBy, invoiceID sql.NullString
	var approvedAt sql.NullTime
	err := row.Scan(
		&e.ID, &e.FirmID, &e.EngagementID, &e.Description, &e.Date, &e.Hours, &e.HourlyRate,
		&e.Approved, &approvedBy, &approvedAt, &e.Invoiced, &invoiceID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if approvedBy.Valid {
		e.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		e.ApprovedAt = &t
	}
	if invoiceID.Valid {
		e.InvoiceID = &invoiceID.String
	}
	return e, nil
}
