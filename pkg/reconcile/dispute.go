package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mintfield/billcore/pkg/billing"
)

// ErrDisputeNotFound is returned when a dispute id is unknown.
var ErrDisputeNotFound = errors.New("dispute not found")

// Dispute is a payment dispute raised at the processor against a charge.
// ProcessorDisputeID is the processor's identifier and the lookup key for
// closure events.
type Dispute struct {
	ID                 string                `json:"id"`
	FirmID             string                `json:"firm_id"`
	InvoiceID          string                `json:"invoice_id"`
	ChargeID           string                `json:"charge_id"`
	ProcessorDisputeID string                `json:"processor_dispute_id"`
	Amount             billing.Cents         `json:"amount_cents"`
	Reason             string                `json:"reason,omitempty"`
	Status             billing.DisputeStatus `json:"status"`
	Resolution         string                `json:"resolution,omitempty"`
	OpenedAt           time.Time             `json:"opened_at"`
	RespondBy          *time.Time            `json:"respond_by,omitempty"`
	ClosedAt           *time.Time            `json:"closed_at,omitempty"`
}

// DisputeStore is the persistence interface for disputes.
type DisputeStore interface {
	// Create persists a new dispute.
	Create(ctx context.Context, d *Dispute) error

	// GetByProcessorID returns the dispute with the processor's id.
	GetByProcessorID(ctx context.Context, firmID, processorDisputeID string) (*Dispute, error)

	// Close records the terminal status, resolution, and closure time.
	// Closing an already-closed dispute returns ErrDisputeNotFound;
	// closure events are delivered at most once past the dedup layer.
	Close(ctx context.Context, firmID, id string, status billing.DisputeStatus, resolution string, closedAt time.Time) error

	// ListOpen returns the firm's unresolved disputes.
	ListOpen(ctx context.Context, firmID string) ([]*Dispute, error)
}

// MemoryDisputeStore is an in-memory DisputeStore for tests.
type MemoryDisputeStore struct {
	mu       sync.Mutex
	disputes map[string]*Dispute
}

// NewMemoryDisputeStore creates an empty in-memory dispute store.
func NewMemoryDisputeStore() *MemoryDisputeStore {
	return &MemoryDisputeStore{disputes: make(map[string]*Dispute)}
}

func (s *MemoryDisputeStore) Create(ctx context.Context, d *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.disputes[d.ID] = &cp
	return nil
}

func (s *MemoryDisputeStore) GetByProcessorID(ctx context.Context, firmID, processorDisputeID string) (*Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.disputes {
		if d.FirmID == firmID && d.ProcessorDisputeID == processorDisputeID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrDisputeNotFound
}

func (s *MemoryDisputeStore) Close(ctx context.Context, firmID, id string, status billing.DisputeStatus, resolution string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok || d.FirmID != firmID || d.ClosedAt != nil {
		return ErrDisputeNotFound
	}
	d.Status = status
	d.Resolution = resolution
	d.ClosedAt = &closedAt
	return nil
}

func (s *MemoryDisputeStore) ListOpen(ctx context.Context, firmID string) ([]*Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Dispute
	for _, d := range s.disputes {
		if d.FirmID == firmID && d.ClosedAt == nil {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PostgresDisputeStore implements DisputeStore using PostgreSQL.
type PostgresDisputeStore struct {
	db *sql.DB
}

// NewPostgresDisputeStore creates a Postgres-backed dispute store.
func NewPostgresDisputeStore(db *sql.DB) *PostgresDisputeStore {
	return &PostgresDisputeStore{db: db}
}

const disputeColumns = `id, firm_id, invoice_id, charge_id, processor_dispute_id,
       amount_cents, reason, status, resolution, opened_at, respond_by, closed_at`

func (s *PostgresDisputeStore) Create(ctx context.Context, d *Dispute) error {
	query := `
		INSERT INTO disputes (id, firm_id, invoice_id, charge_id, processor_dispute_id,
			amount_cents, reason, status, opened_at, respond_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query, d.ID, d.FirmID, d.InvoiceID, d.ChargeID,
		d.ProcessorDisputeID, d.Amount, d.Reason, d.Status, d.OpenedAt, d.RespondBy)
	if err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

func (s *PostgresDisputeStore) GetByProcessorID(ctx context.Context, firmID, processorDisputeID string) (*Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes
		WHERE firm_id = $1 AND processor_dispute_id = $2`
	d, err := scanDispute(s.db.QueryRowContext(ctx, query, firmID, processorDisputeID))
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}
	return d, nil
}

func (s *PostgresDisputeStore) Close(ctx context.Context, firmID, id string, status billing.DisputeStatus, resolution string, closedAt time.Time) error {
	query := `UPDATE disputes SET status = $1, resolution = $2, closed_at = $3
		WHERE firm_id = $4 AND id = $5 AND closed_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, status, resolution, closedAt, firmID, id)
	if err != nil {
		return fmt.Errorf("failed to close dispute: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (s *PostgresDisputeStore) ListOpen(ctx context.Context, firmID string) ([]*Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes
		WHERE firm_id = $1 AND closed_at IS NULL ORDER BY opened_at`
	rows, err := s.db.QueryContext(ctx, query, firmID)
	if err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer rows.Close()

	var out []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispute: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispute(row rowScanner) (*Dispute, error) {
	d := &Dispute{}
	var reason, resolution sql.NullString
	var respondBy, closedAt sql.NullTime
	err := row.Scan(&d.ID, &d.FirmID, &d.InvoiceID, &d.ChargeID, &d.ProcessorDisputeID,
		&d.Amount, &reason, &d.Status, &resolution, &d.OpenedAt, &respondBy, &closedAt)
	if err != nil {
		return nil, err
	}
	d.Reason = reason.String
	d.Resolution = resolution.String
	if respondBy.Valid {
		d.RespondBy = &respondBy.Time
	}
	if closedAt.Valid {
		d.ClosedAt = &closedAt.Time
	}
	return d, nil
}
