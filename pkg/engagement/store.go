package engagement

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the persistence interface for engagements.
type Store interface {
	// Create persists a new engagement.
	Create(ctx context.Context, e *Engagement) error

	// Get returns the engagement for the firm, or ErrNotFound.
	Get(ctx context.Context, firmID, id string) (*Engagement, error)

	// ListCurrent returns engagements with status current. firmID narrows
	// the batch to one firm when non-empty.
	ListCurrent(ctx context.Context, firmID string) ([]*Engagement, error)

	// SetStatus updates an engagement's lifecycle status.
	SetStatus(ctx context.Context, firmID, id string, status Status) error
}

// MemoryStore is an in-memory Store used in tests and single-process
// deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	engagements map[string]*Engagement
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{engagements: make(map[string]*Engagement)}
}

func (s *MemoryStore) Create(ctx context.Context, e *Engagement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cp := *e
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.engagements[e.ID] = &cp
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, firmID, id string) (*Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.engagements[id]
	if !ok || e.FirmID != firmID {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListCurrent(ctx context.Context, firmID string) ([]*Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Engagement
	for _, e := range s.engagements {
		if e.Status != StatusCurrent {
			continue
		}
		if firmID != "" && e.FirmID != firmID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, firmID, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.engagements[id]
	if !ok || e.FirmID != firmID {
		return ErrNotFound
	}
	e.Status = status
	e.UpdatedAt = time.Now().UTC()
	return nil
}
