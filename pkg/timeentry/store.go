package timeentry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store is the persistence interface for time entries.
type Store interface {
	// Create persists a new entry.
	Create(ctx context.Context, e *Entry) error

	// Get returns the entry for the firm, or ErrNotFound.
	Get(ctx context.Context, firmID, id string) (*Entry, error)

	// SetApproval records an approval decision. It never touches invoiced
	// entries; callers enforce the gate rules first.
	SetApproval(ctx context.Context, firmID, id string, approved bool, approvedBy *string, approvedAt *time.Time) error

	// BillableEntries returns approved, not-yet-invoiced entries for an
	// engagement dated on or before asOf, ordered by date.
	BillableEntries(ctx context.Context, firmID, engagementID string, asOf time.Time) ([]*Entry, error)

	// MarkInvoiced links the entries to an invoice and flips invoiced in
	// one atomic step. It fails the whole batch if any entry is
	// unapproved (ErrNotApproved) or already consumed (ErrAlreadyInvoiced).
	MarkInvoiced(ctx context.Context, firmID string, entryIDs []string, invoiceID string) error
}

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Create(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cp := *e
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.entries[e.ID] = &cp
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, firmID, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.FirmID != firmID {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) SetApproval(ctx context.Context, firmID, id string, approved bool, approvedBy *string, approvedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.FirmID != firmID {
		return ErrNotFound
	}
	e.Approved = approved
	e.ApprovedBy = approvedBy
	e.ApprovedAt = approvedAt
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) BillableEntries(ctx context.Context, firmID, engagementID string, asOf time.Time) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Entry
	for _, e := range s.entries {
		if e.FirmID != firmID || e.EngagementID != engagementID {
			continue
		}
		if !e.Approved || e.Invoiced {
			continue
		}
		if e.Date.After(asOf) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (s *MemoryStore) MarkInvoiced(ctx context.Context, firmID string, entryIDs []string, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before mutating anything so the operation
	// is atomic: both succeed or both fail.
	for _, id := range entryIDs {
		e, ok := s.entries[id]
		if !ok || e.FirmID != firmID {
			return fmt.Errorf("entry %s: %w", id, ErrNotFound)
		}
		if e.Invoiced {
			return fmt.Errorf("entry %s: %w", id, ErrAlreadyInvoiced)
		}
		if !e.Approved {
			return fmt.Errorf("entry %s: %w", id, ErrNotApproved)
		}
	}

	now := time.Now().UTC()
	for _, id := range entryIDs {
		e := s.entries[id]
		e.Invoiced = true
		e.InvoiceID = &invoiceID
		e.UpdatedAt = now
	}
	return nil
}
