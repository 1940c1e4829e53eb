package invoices

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mintfield/billcore/pkg/billing"
)

// PostgresStore implements Store using PostgreSQL. The exactly-once guarantee
// for package invoices rests on the unique index over
// (engagement_id, period_start); CreateForPeriod inserts with
// ON CONFLICT DO NOTHING so racing batch runs both succeed, with only one
// row created.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed invoice store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const invoiceColumns = `id, number, firm_id, client_id, engagement_id, period_start, period_end,
       line_items, subtotal_cents, tax_cents, total_cents, amount_paid_cents,
       credit_applied_cents, status, issue_date, due_date, autopay_status,
       autopay_attempts, next_charge_at, last_charge_id, failure_code,
       failure_message, failed_at, created_at, updated_at`

const insertInvoice = `
	INSERT INTO invoices (id, number, firm_id, client_id, engagement_id, period_start,
		period_end, line_items, subtotal_cents, tax_cents, total_cents, status,
		issue_date, due_date, autopay_status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

func (s *PostgresStore) Create(ctx context.Context, inv *Invoice) error {
	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}
	query := insertInvoice + ` RETURNING created_at, updated_at`
	err = s.db.QueryRowContext(ctx, query,
		inv.ID, inv.Number, inv.FirmID, inv.ClientID, inv.EngagementID,
		inv.PeriodStart, inv.PeriodEnd, items, inv.Subtotal, inv.Tax, inv.Total,
		inv.Status, inv.IssueDate, inv.DueDate, inv.AutopayStatus,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateForPeriod(ctx context.Context, inv *Invoice) (bool, error) {
	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return false, fmt.Errorf("failed to encode line items: %w", err)
	}
	query := insertInvoice + ` ON CONFLICT (engagement_id, period_start) DO NOTHING`
	result, err := s.db.ExecContext(ctx, query,
		inv.ID, inv.Number, inv.FirmID, inv.ClientID, inv.EngagementID,
		inv.PeriodStart, inv.PeriodEnd, items, inv.Subtotal, inv.Tax, inv.Total,
		inv.Status, inv.IssueDate, inv.DueDate, inv.AutopayStatus,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create period invoice: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) ExistsForPeriod(ctx context.Context, firmID, engagementID string, periodStart time.Time) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM invoices
		WHERE firm_id = $1 AND engagement_id = $2 AND period_start = $3
	)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, firmID, engagementID, periodStart).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check period invoice: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Get(ctx context.Context, firmID, id string) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE firm_id = $1 AND id = $2`
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, query, firmID, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

func (s *PostgresStore) ListByClient(ctx context.Context, firmID, clientID string) ([]*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE firm_id = $1 AND client_id = $2
		ORDER BY issue_date DESC, id`
	return s.queryInvoices(ctx, query, firmID, clientID)
}

func (s *PostgresStore) ListDueAutopay(ctx context.Context, firmID string, asOf time.Time, limit int) ([]*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE autopay_status = 'scheduled' AND next_charge_at <= $1`
	args := []any{asOf}
	if firmID != "" {
		args = append(args, firmID)
		query += fmt.Sprintf(` AND firm_id = $%d`, len(args))
	}
	query += ` ORDER BY next_charge_at`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return s.queryInvoices(ctx, query, args...)
}

func (s *PostgresStore) queryInvoices(ctx context.Context, query string, args ...any) ([]*Invoice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CASStatus(ctx context.Context, firmID, id string, from []billing.InvoiceStatus, to billing.InvoiceStatus) error {
	// Only from-states the lifecycle table allows into "to" reach the
	// predicate; anything else is a conflict by definition.
	expected := make([]string, 0, len(from))
	for _, f := range from {
		if billing.InvoiceTransitions.Allowed(f, to) {
			expected = append(expected, string(f))
		}
	}
	if len(expected) == 0 {
		return ErrStatusConflict
	}
	query := `UPDATE invoices SET status = $1, updated_at = NOW()
		WHERE firm_id = $2 AND id = $3 AND status = ANY($4)`
	result, err := s.db.ExecContext(ctx, query, to, firmID, id, pq.Array(expected))
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	return casOutcome(result)
}

func (s *PostgresStore) CASAutopay(ctx context.Context, firmID, id string, from, to billing.AutopayStatus) error {
	if !billing.AutopayTransitions.Allowed(from, to) {
		return ErrStatusConflict
	}
	query := `UPDATE invoices SET autopay_status = $1, updated_at = NOW()
		WHERE firm_id = $2 AND id = $3 AND autopay_status = $4`
	result, err := s.db.ExecContext(ctx, query, to, firmID, id, from)
	if err != nil {
		return fmt.Errorf("failed to update autopay status: %w", err)
	}
	return casOutcome(result)
}

func (s *PostgresStore) SetAutopaySchedule(ctx context.Context, firmID, id string, status billing.AutopayStatus, nextChargeAt *time.Time, attempts int) error {
	query := `UPDATE invoices SET autopay_status = $1, next_charge_at = $2,
		autopay_attempts = $3, updated_at = NOW()
		WHERE firm_id = $4 AND id = $5`
	result, err := s.db.ExecContext(ctx, query, status, nextChargeAt, attempts, firmID, id)
	if err != nil {
		return fmt.Errorf("failed to set autopay schedule: %w", err)
	}
	return notFoundOutcome(result)
}

func (s *PostgresStore) ReplaceLineItems(ctx context.Context, firmID, id string, items []billing.LineItem, subtotal, tax, total billing.Cents) error {
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}
	query := `UPDATE invoices SET line_items = $1, subtotal_cents = $2, tax_cents = $3,
		total_cents = $4, updated_at = NOW()
		WHERE firm_id = $5 AND id = $6`
	result, err := s.db.ExecContext(ctx, query, encoded, subtotal, tax, total, firmID, id)
	if err != nil {
		return fmt.Errorf("failed to replace line items: %w", err)
	}
	return notFoundOutcome(result)
}

func (s *PostgresStore) AddPayment(ctx context.Context, firmID, id string, amount billing.Cents, chargeID string) (*Invoice, error) {
	query := `UPDATE invoices SET amount_paid_cents = amount_paid_cents + $1,
		last_charge_id = COALESCE(NULLIF($2, ''), last_charge_id),
		updated_at = NOW()
		WHERE firm_id = $3 AND id = $4
		RETURNING ` + invoiceColumns
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, query, amount, chargeID, firmID, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	return inv, nil
}

func (s *PostgresStore) AddCreditApplied(ctx context.Context, firmID, id string, amount billing.Cents) (*Invoice, error) {
	query := `UPDATE invoices SET credit_applied_cents = credit_applied_cents + $1, updated_at = NOW()
		WHERE firm_id = $2 AND id = $3
		RETURNING ` + invoiceColumns
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, query, amount, firmID, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record applied credit: %w", err)
	}
	return inv, nil
}

func (s *PostgresStore) RecordFailure(ctx context.Context, firmID, id, code, message string) error {
	query := `UPDATE invoices SET failure_code = $1, failure_message = $2,
		failed_at = NOW(), updated_at = NOW()
		WHERE firm_id = $3 AND id = $4`
	result, err := s.db.ExecContext(ctx, query, code, message, firmID, id)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return notFoundOutcome(result)
}

func casOutcome(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func notFoundOutcome(result sql.Result) error {
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

func scanInvoice(row rowScanner) (*Invoice, error) {
	inv := &Invoice{}
	var (
		periodStart, periodEnd, nextCharge, failedAt sql.NullTime
		lastCharge, failureCode, failureMessage      sql.NullString
		items                                        []byte
	)
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.FirmID, &inv.ClientID, &inv.EngagementID,
		&periodStart, &periodEnd, &items, &inv.Subtotal, &inv.Tax, &inv.Total,
		&inv.AmountPaid, &inv.CreditApplied, &inv.Status, &inv.IssueDate,
		&inv.DueDate, &inv.AutopayStatus, &inv.AutopayAttempts, &nextCharge,
		&lastCharge, &failureCode, &failureMessage, &failedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &inv.LineItems); err != nil {
			return nil, fmt.Errorf("failed to decode line items: %w", err)
		}
	}
	if periodStart.Valid {
		inv.PeriodStart = &periodStart.Time
	}
	if periodEnd.Valid {
		inv.PeriodEnd = &periodEnd.Time
	}
	if nextCharge.Valid {
		inv.NextChargeAt = &nextCharge.Time
	}
	if lastCharge.Valid {
		inv.LastChargeID = &lastCharge.String
	}
	if failureCode.Valid {
		inv.FailureCode = &failureCode.String
	}
	if failureMessage.Valid {
		inv.FailureMessage = &failureMessage.String
	}
	if failedAt.Valid {
		inv.FailedAt = &failedAt.Time
	}
	return inv, nil
}
