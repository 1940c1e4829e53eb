package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Grant gives an actor one capability within a firm.
type Grant struct {
	FirmID     string    `json:"firm_id"`
	Actor      string    `json:"actor"`
	Capability string    `json:"capability"`
	GrantedBy  string    `json:"granted_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// GrantStore is the persistence interface for capability grants.
type GrantStore interface {
	// Grant records a capability for an actor. Re-granting is a no-op.
	Grant(ctx context.Context, g *Grant) error

	// Revoke removes a capability from an actor.
	Revoke(ctx context.Context, firmID, actor, capability string) error

	// Has reports whether the actor holds the capability in the firm.
	Has(ctx context.Context, firmID, actor, capability string) (bool, error)
}

func grantKey(firmID, actor, capability string) string {
	return firmID + "|" + actor + "|" + capability
}

// MemoryGrantStore is an in-memory GrantStore for tests and single-process
// deployments.
type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[string]*Grant
}

// NewMemoryGrantStore creates an empty in-memory store.
func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[string]*Grant)}
}

func (s *MemoryGrantStore) Grant(ctx context.Context, g *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grantKey(g.FirmID, g.Actor, g.Capability)] = g
	return nil
}

func (s *MemoryGrantStore) Revoke(ctx context.Context, firmID, actor, capability string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, grantKey(firmID, actor, capability))
	return nil
}

func (s *MemoryGrantStore) Has(ctx context.Context, firmID, actor, capability string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.grants[grantKey(firmID, actor, capability)]
	return ok, nil
}

// PostgresGrantStore is the production GrantStore.
type PostgresGrantStore struct {
	db *sql.DB
}

// NewPostgresGrantStore creates a Postgres-backed store.
func NewPostgresGrantStore(db *sql.DB) *PostgresGrantStore {
	return &PostgresGrantStore{db: db}
}

func (s *PostgresGrantStore) Grant(ctx context.Context, g *Grant) error {
	query := `
		INSERT INTO capability_grants (firm_id, actor, capability, granted_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (firm_id, actor, capability) DO NOTHING
	`
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, query, g.FirmID, g.Actor, g.Capability, g.GrantedBy, createdAt); err != nil {
		return fmt.Errorf("failed to record grant: %w", err)
	}
	return nil
}

func (s *PostgresGrantStore) Revoke(ctx context.Context, firmID, actor, capability string) error {
	query := `DELETE FROM capability_grants WHERE firm_id = $1 AND actor = $2 AND capability = $3`
	if _, err := s.db.ExecContext(ctx, query, firmID, actor, capability); err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	return nil
}

func (s *PostgresGrantStore) Has(ctx context.Context, firmID, actor, capability string) (bool, error) {
	query := `SELECT 1 FROM capability_grants WHERE firm_id = $1 AND actor = $2 AND capability = $3`
	var one int
	err := s.db.QueryRowContext(ctx, query, firmID, actor, capability).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query grant: %w", err)
	}
	return true, nil
}
