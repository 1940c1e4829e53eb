package autopay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotEnrolled is returned when autopay is requested for a client
	// without an enabled profile and stored payment method.
	ErrNotEnrolled = errors.New("client is not enrolled in autopay")

	// ErrProfileNotFound is returned when no profile exists for the client.
	ErrProfileNotFound = errors.New("autopay profile not found")
)

// Profile is a client's autopay enrollment. PaymentMethodID references a
// payment method stored at the processor; raw card data never enters this
// system.
type Profile struct {
	FirmID          string    `json:"firm_id"`
	ClientID        string    `json:"client_id"`
	Enabled         bool      `json:"enabled"`
	PaymentMethodID string    `json:"payment_method_id"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Enrolled reports whether the profile can fund automatic charges.
func (p *Profile) Enrolled() bool {
	return p.Enabled && p.PaymentMethodID != ""
}

// ProfileStore is the persistence interface for autopay profiles.
type ProfileStore interface {
	// Upsert creates or replaces the client's profile.
	Upsert(ctx context.Context, p *Profile) error

	// Get returns the client's profile, or ErrProfileNotFound.
	Get(ctx context.Context, firmID, clientID string) (*Profile, error)
}

// MemoryProfileStore is an in-memory ProfileStore for tests.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryProfileStore creates an empty in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]*Profile)}
}

func profileKey(firmID, clientID string) string { return firmID + "|" + clientID }

func (s *MemoryProfileStore) Upsert(ctx context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.UpdatedAt = time.Now().UTC()
	s.profiles[profileKey(p.FirmID, p.ClientID)] = &cp
	return nil
}

func (s *MemoryProfileStore) Get(ctx context.Context, firmID, clientID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileKey(firmID, clientID)]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

// PostgresProfileStore implements ProfileStore using PostgreSQL.
type PostgresProfileStore struct {
	db *sql.DB
}

// NewPostgresProfileStore creates a Postgres-backed profile store.
func NewPostgresProfileStore(db *sql.DB) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

func (s *PostgresProfileStore) Upsert(ctx context.Context, p *Profile) error {
	query := `
		INSERT INTO autopay_profiles (firm_id, client_id, enabled, payment_method_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (firm_id, client_id) DO UPDATE
		SET enabled = EXCLUDED.enabled,
		    payment_method_id = EXCLUDED.payment_method_id,
		    updated_at = NOW()
		RETURNING updated_at
	`
	err := s.db.QueryRowContext(ctx, query, p.FirmID, p.ClientID, p.Enabled, p.PaymentMethodID).
		Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert autopay profile: %w", err)
	}
	return nil
}

func (s *PostgresProfileStore) Get(ctx context.Context, firmID, clientID string) (*Profile, error) {
	query := `SELECT firm_id, client_id, enabled, payment_method_id, updated_at
		FROM autopay_profiles WHERE firm_id = $1 AND client_id = $2`
	p := &Profile{}
	err := s.db.QueryRowContext(ctx, query, firmID, clientID).
		Scan(&p.FirmID, &p.ClientID, &p.Enabled, &p.PaymentMethodID, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get autopay profile: %w", err)
	}
	return p, nil
}
