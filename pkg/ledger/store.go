package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mintfield/billcore/pkg/billing"
)

// Store is the persistence interface for the ledger. It deliberately has no
// update or delete operations.
type Store interface {
	// AppendEntry persists a new immutable entry.
	AppendEntry(ctx context.Context, e *Entry) error

	// Entries returns a client's entries in creation order.
	Entries(ctx context.Context, firmID, clientID string) ([]*Entry, error)

	// Balance returns the signed sum of a client's entries
	// (credits minus debits).
	Balance(ctx context.Context, firmID, clientID string) (billing.Cents, error)

	// AppendApplications persists application records alongside the debit
	// entry funding them, atomically.
	AppendApplications(ctx context.Context, debit *Entry, apps []*Application) error

	// Applications returns the application records for an invoice.
	Applications(ctx context.Context, firmID, invoiceID string) ([]*Application, error)

	// AppliedFromEntry returns how much of one credit entry has been
	// consumed by applications.
	AppliedFromEntry(ctx context.Context, firmID, entryID string) (billing.Cents, error)
}

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu      sync.Mutex
	entries []*Entry
	apps    []*Application
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) AppendEntry(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntryLocked(e)
}

func (s *MemoryStore) appendEntryLocked(e *Entry) error {
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, &cp)
	e.CreatedAt = cp.CreatedAt
	return nil
}

func (s *MemoryStore) Entries(ctx context.Context, firmID, clientID string) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Entry
	for _, e := range s.entries {
		if e.FirmID == firmID && e.ClientID == clientID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Balance(ctx context.Context, firmID, clientID string) (billing.Cents, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var balance billing.Cents
	for _, e := range s.entries {
		if e.FirmID != firmID || e.ClientID != clientID {
			continue
		}
		switch e.Type {
		case EntryCredit:
			balance += e.Amount
		case EntryDebit:
			balance -= e.Amount
		}
	}
	return balance, nil
}

func (s *MemoryStore) AppendApplications(ctx context.Context, debit *Entry, apps []*Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendEntryLocked(debit); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, a := range apps {
		cp := *a
		cp.CreatedAt = now
		s.apps = append(s.apps, &cp)
	}
	return nil
}

func (s *MemoryStore) Applications(ctx context.Context, firmID, invoiceID string) ([]*Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Application
	for _, a := range s.apps {
		if a.FirmID == firmID && a.InvoiceID == invoiceID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppliedFromEntry(ctx context.Context, firmID, entryID string) (billing.Cents, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total billing.Cents
	for _, a := range s.apps {
		if a.FirmID == firmID && a.EntryID == entryID {
			total += a.Amount
		}
	}
	return total, nil
}
