package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mintfield/billcore/pkg/billing"
)

// PostgresStore implements Store using PostgreSQL. The schema carries no
// UPDATE or DELETE path for ledger rows; this type mirrors that by simply
// not having the methods.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) AppendEntry(ctx context.Context, e *Entry) error {
	query := `
		INSERT INTO credit_ledger_entries (id, firm_id, client_id, entry_type, amount_cents,
			source, invoice_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		e.ID, e.FirmID, e.ClientID, e.Type, e.Amount, e.Source, e.InvoiceID, e.CreatedBy,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Entries(ctx context.Context, firmID, clientID string) ([]*Entry, error) {
	query := `
		SELECT id, firm_id, client_id, entry_type, amount_cents, source, invoice_id, created_by, created_at
		FROM credit_ledger_entries
		WHERE firm_id = $1 AND client_id = $2
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, firmID, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		var invoiceID sql.NullString
		if err := rows.Scan(&e.ID, &e.FirmID, &e.ClientID, &e.Type, &e.Amount, &e.Source,
			&invoiceID, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if invoiceID.Valid {
			e.InvoiceID = &invoiceID.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Balance(ctx context.Context, firmID, clientID string) (billing.Cents, error) {
	query := `
		SELECT COALESCE(SUM(CASE entry_type WHEN 'credit' THEN amount_cents ELSE -amount_cents END), 0)
		FROM credit_ledger_entries
		WHERE firm_id = $1 AND client_id = $2
	`
	var balance billing.Cents
	if err := s.db.QueryRowContext(ctx, query, firmID, clientID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to compute balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) AppendApplications(ctx context.Context, debit *Entry, apps []*Application) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO credit_ledger_entries (id, firm_id, client_id, entry_type, amount_cents,
			source, invoice_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, debit.ID, debit.FirmID, debit.ClientID, debit.Type, debit.Amount, debit.Source,
		debit.InvoiceID, debit.CreatedBy,
	).Scan(&debit.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append debit entry: %w", err)
	}

	for _, a := range apps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO credit_applications (id, firm_id, client_id, invoice_id, entry_id, amount_cents)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, a.ID, a.FirmID, a.ClientID, a.InvoiceID, a.EntryID, a.Amount)
		if err != nil {
			return fmt.Errorf("failed to append application record: %w", err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) Applications(ctx context.Context, firmID, invoiceID string) ([]*Application, error) {
	query := `
		SELECT id, firm_id, client_id, invoice_id, entry_id, amount_cents, created_at
		FROM credit_applications
		WHERE firm_id = $1 AND invoice_id = $2
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, firmID, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var out []*Application
	for rows.Next() {
		a := &Application{}
		if err := rows.Scan(&a.ID, &a.FirmID, &a.ClientID, &a.InvoiceID, &a.EntryID,
			&a.Amount, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppliedFromEntry(ctx context.Context, firmID, entryID string) (billing.Cents, error) {
	query := `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM credit_applications
		WHERE firm_id = $1 AND entry_id = $2
	`
	var total billing.Cents
	if err := s.db.QueryRowContext(ctx, query, firmID, entryID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to compute entry consumption: %w", err)
	}
	return total, nil
}
