package invoices

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mintfield/billcore/pkg/billing"
)

// Store is the persistence interface for invoices. Status changes go through
// the conditional CAS methods so that concurrent writers serialize on the
// database row, never on in-process locks.
type Store interface {
	// Create persists a new invoice with no period-uniqueness guarantee.
	// Hourly-only invoices use this path.
	Create(ctx context.Context, inv *Invoice) error

	// CreateForPeriod persists a package invoice if and only if no invoice
	// exists for (engagement, period start). It returns false when a
	// previous run already created one; that is the idempotent no-op path,
	// not an error.
	CreateForPeriod(ctx context.Context, inv *Invoice) (bool, error)

	// ExistsForPeriod reports whether a package invoice already exists for
	// the engagement and period start. Dry runs use this.
	ExistsForPeriod(ctx context.Context, firmID, engagementID string, periodStart time.Time) (bool, error)

	// Get returns the invoice for the firm, or ErrNotFound.
	Get(ctx context.Context, firmID, id string) (*Invoice, error)

	// ListByClient returns the client's invoices, newest first.
	ListByClient(ctx context.Context, firmID, clientID string) ([]*Invoice, error)

	// ListDueAutopay returns invoices with autopay scheduled and a charge
	// time at or before asOf. firmID narrows to one firm when non-empty.
	ListDueAutopay(ctx context.Context, firmID string, asOf time.Time, limit int) ([]*Invoice, error)

	// CASStatus moves the invoice to status "to" only if its current
	// status is in "from". ErrStatusConflict means a concurrent writer
	// already moved it. Both implementations also consult
	// billing.InvoiceTransitions; a requested from-state the lifecycle
	// table forbids is treated as a conflict, never applied.
	CASStatus(ctx context.Context, firmID, id string, from []billing.InvoiceStatus, to billing.InvoiceStatus) error

	// CASAutopay moves the autopay state only from the expected state.
	// The move must also be legal per billing.AutopayTransitions.
	CASAutopay(ctx context.Context, firmID, id string, from, to billing.AutopayStatus) error

	// SetAutopaySchedule records the autopay state, next charge time, and
	// attempt count in one write.
	SetAutopaySchedule(ctx context.Context, firmID, id string, status billing.AutopayStatus, nextChargeAt *time.Time, attempts int) error

	// ReplaceLineItems swaps the line items and recomputed totals. The
	// generator uses this to strip hourly lines from a combined invoice
	// when entry marking fails.
	ReplaceLineItems(ctx context.Context, firmID, id string, items []billing.LineItem, subtotal, tax, total billing.Cents) error

	// AddPayment increments amount_paid and returns the updated invoice.
	// A negative amount records a reversal. chargeID, when non-empty,
	// becomes the invoice's last charge for refund lookups. Status
	// derivation (partial vs paid) is the caller's job via CASStatus.
	AddPayment(ctx context.Context, firmID, id string, amount billing.Cents, chargeID string) (*Invoice, error)

	// AddCreditApplied increments credit_applied and returns the updated
	// invoice.
	AddCreditApplied(ctx context.Context, firmID, id string, amount billing.Cents) (*Invoice, error)

	// RecordFailure stores the last charge failure and the time it was
	// recorded on the invoice.
	RecordFailure(ctx context.Context, firmID, id, code, message string) error
}

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu       sync.Mutex
	invoices map[string]*Invoice
	periods  map[string]string // firm|engagement|periodKey -> invoice ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[string]*Invoice),
		periods:  make(map[string]string),
	}
}

func periodKey(firmID, engagementID string, start time.Time) string {
	return firmID + "|" + engagementID + "|" + start.UTC().Format("2006-01-02")
}

func (s *MemoryStore) Create(ctx context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(inv)
	return nil
}

func (s *MemoryStore) insertLocked(inv *Invoice) {
	now := time.Now().UTC()
	cp := *inv
	cp.LineItems = append([]billing.LineItem(nil), inv.LineItems...)
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.invoices[inv.ID] = &cp
	inv.CreatedAt = now
	inv.UpdatedAt = now
}

func (s *MemoryStore) CreateForPeriod(ctx context.Context, inv *Invoice) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := periodKey(inv.FirmID, inv.EngagementID, *inv.PeriodStart)
	if _, exists := s.periods[key]; exists {
		return false, nil
	}
	s.insertLocked(inv)
	s.periods[key] = inv.ID
	return true, nil
}

func (s *MemoryStore) ExistsForPeriod(ctx context.Context, firmID, engagementID string, periodStart time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.periods[periodKey(firmID, engagementID, periodStart)]
	return exists, nil
}

func (s *MemoryStore) Get(ctx context.Context, firmID, id string) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(firmID, id)
}

func (s *MemoryStore) getLocked(firmID, id string) (*Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok || inv.FirmID != firmID {
		return nil, ErrNotFound
	}
	cp := *inv
	cp.LineItems = append([]billing.LineItem(nil), inv.LineItems...)
	return &cp, nil
}

func (s *MemoryStore) ListByClient(ctx context.Context, firmID, clientID string) ([]*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Invoice
	for _, inv := range s.invoices {
		if inv.FirmID == firmID && inv.ClientID == clientID {
			cp := *inv
			cp.LineItems = append([]billing.LineItem(nil), inv.LineItems...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].IssueDate.After(out[j].IssueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListDueAutopay(ctx context.Context, firmID string, asOf time.Time, limit int) ([]*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Invoice
	for _, inv := range s.invoices {
		if firmID != "" && inv.FirmID != firmID {
			continue
		}
		if inv.AutopayStatus != billing.AutopayScheduled {
			continue
		}
		if inv.NextChargeAt == nil || inv.NextChargeAt.After(asOf) {
			continue
		}
		cp := *inv
		cp.LineItems = append([]billing.LineItem(nil), inv.LineItems...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextChargeAt.Before(*out[j].NextChargeAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CASStatus(ctx context.Context, firmID, id string, from []billing.InvoiceStatus, to billing.InvoiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok || inv.FirmID != firmID {
		return ErrNotFound
	}
	for _, f := range from {
		if inv.Status == f {
			if !billing.InvoiceTransitions.Allowed(f, to) {
				return ErrStatusConflict
			}
			inv.Status = to
			inv.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrStatusConflict
}

func (s *MemoryStore) CASAutopay(ctx context.Context, firmID, id string, from, to billing.AutopayStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok || inv.FirmID != firmID {
		return ErrNotFound
	}
	if inv.AutopayStatus != from || !billing.AutopayTransitions.Allowed(from, to) {
		return ErrStatusConflict
	}
	inv.AutopayStatus = to
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetAutopaySchedule(ctx context.Context, firmID, id string, status billing.AutopayStatus, nextChargeAt *time.Time, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok || inv.FirmID != firmID {
		return ErrNotFound
	}
	inv.AutopayStatus = status
	inv.NextChargeAt = nextChargeAt
	inv.AutopayAttempts = attempts
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ReplaceLineItems(ctx context.Context, firmID, id string, items []billing.LineItem, subtotal, tax, total billing.Cents) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok || inv.FirmID != firmID {
		return ErrNotFound
	}
	inv.LineItems = append([]billing.LineItem(nil), items...)
	inv.Subtotal = subtotal
	inv.Tax = tax
	inv.Total = total
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AddPayment(ctx context.Context, firmID, id string, amount billing.Cents, chargeID string) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok || inv.FirmID != firmID {
		return nil, ErrNotFound
	}
	inv.AmountPaid += amount
	if chargeID != "" {
		inv.LastChargeID = &chargeID
	}
	inv.UpdatedAt = time.Now().UTC()
	return s.getLocked(firmID, id)
}

func (s *MemoryStore) AddCreditApplied(ctx context.Context, firmID, id string, amount billing.Cents) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok || inv.FirmID != firmID {
		return nil, ErrNotFound
	}
	inv.CreditApplied += amount
	inv.UpdatedAt = time.Now().UTC()
	return s.getLocked(firmID, id)
}

func (s *MemoryStore) RecordFailure(ctx context.Context, firmID, id, code, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok || inv.FirmID != firmID {
		return ErrNotFound
	}
	now := time.Now().UTC()
	inv.FailureCode = &code
	inv.FailureMessage = &message
	inv.FailedAt = &now
	inv.UpdatedAt = now
	return nil
}
