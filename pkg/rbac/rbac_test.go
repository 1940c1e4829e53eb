package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGrantStore(t *testing.T) {
	store := NewMemoryGrantStore()
	ctx := context.Background()

	has, err := store.Has(ctx, "firm-1", "alice", "credits.adjust")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.Grant(ctx, &Grant{
		FirmID: "firm-1", Actor: "alice", Capability: "credits.adjust", GrantedBy: "owner",
	}))

	has, err = store.Has(ctx, "firm-1", "alice", "credits.adjust")
	require.NoError(t, err)
	assert.True(t, has)

	// Scoped to the firm.
	has, err = store.Has(ctx, "firm-2", "alice", "credits.adjust")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.Revoke(ctx, "firm-1", "alice", "credits.adjust"))
	has, err = store.Has(ctx, "firm-1", "alice", "credits.adjust")
	require.NoError(t, err)
	assert.False(t, has)
}

type failingStore struct{}

func (failingStore) Grant(ctx context.Context, g *Grant) error { return errors.New("down") }
func (failingStore) Revoke(ctx context.Context, firmID, actor, capability string) error {
	return errors.New("down")
}
func (failingStore) Has(ctx context.Context, firmID, actor, capability string) (bool, error) {
	return false, errors.New("down")
}

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestCachedChecker(t *testing.T) {
	store := NewMemoryGrantStore()
	checker := NewCachedChecker(store, time.Minute, newTestLogger())
	now := time.Date(2026, time.August, 14, 12, 0, 0, 0, time.UTC)
	checker.now = func() time.Time { return now }
	ctx := context.Background()

	assert.False(t, checker.HasCapability(ctx, "firm-1", "alice", "credits.adjust"))

	require.NoError(t, store.Grant(ctx, &Grant{FirmID: "firm-1", Actor: "alice", Capability: "credits.adjust"}))

	// The denial is cached until the TTL passes or it is invalidated.
	assert.False(t, checker.HasCapability(ctx, "firm-1", "alice", "credits.adjust"))

	checker.Invalidate("firm-1", "alice", "credits.adjust")
	assert.True(t, checker.HasCapability(ctx, "firm-1", "alice", "credits.adjust"))

	// TTL expiry refreshes from the store.
	require.NoError(t, store.Revoke(ctx, "firm-1", "alice", "credits.adjust"))
	assert.True(t, checker.HasCapability(ctx, "firm-1", "alice", "credits.adjust"))
	now = now.Add(2 * time.Minute)
	assert.False(t, checker.HasCapability(ctx, "firm-1", "alice", "credits.adjust"))
}

func TestCachedCheckerFailsClosed(t *testing.T) {
	checker := NewCachedChecker(failingStore{}, 0, newTestLogger())
	assert.False(t, checker.HasCapability(context.Background(), "firm-1", "alice", "credits.adjust"))
}

func TestPostgresGrantStore(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresGrantStore(db)
	ctx := context.Background()

	t.Run("grant", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO capability_grants`).
			WithArgs("firm-1", "alice", "credits.adjust", "owner", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.Grant(ctx, &Grant{
			FirmID: "firm-1", Actor: "alice", Capability: "credits.adjust", GrantedBy: "owner",
		}))
	})

	t.Run("has", func(t *testing.T) {
		mock.ExpectQuery(`SELECT 1 FROM capability_grants`).
			WithArgs("firm-1", "alice", "credits.adjust").
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
		has, err := store.Has(ctx, "firm-1", "alice", "credits.adjust")
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("missing grant", func(t *testing.T) {
		mock.ExpectQuery(`SELECT 1 FROM capability_grants`).
			WithArgs("firm-1", "bob", "credits.adjust").
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
		has, err := store.Has(ctx, "firm-1", "bob", "credits.adjust")
		require.NoError(t, err)
		assert.False(t, has)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}
