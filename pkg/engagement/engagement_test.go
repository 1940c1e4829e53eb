package engagement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/billing"
)

func validEngagement() *Engagement {
	return &Engagement{
		ID:                "eng-1",
		FirmID:            "firm-1",
		ClientID:          "client-1",
		PricingMode:       ModeMixed,
		PackageFee:        300000,
		PackageCadence:    billing.CadenceMonthly,
		DefaultHourlyRate: 15000,
		StartDate:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:           time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Status:            StatusCurrent,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Engagement)
		wantErr bool
	}{
		{"valid mixed", func(e *Engagement) {}, false},
		{"valid package only", func(e *Engagement) {
			e.PricingMode = ModePackage
			e.DefaultHourlyRate = 0
		}, false},
		{"valid hourly only", func(e *Engagement) {
			e.PricingMode = ModeHourly
			e.PackageFee = 0
			e.PackageCadence = ""
		}, false},
		{"package mode without fee", func(e *Engagement) {
			e.PricingMode = ModePackage
			e.PackageFee = 0
		}, true},
		{"mixed mode without fee", func(e *Engagement) { e.PackageFee = 0 }, true},
		{"mixed mode without rate", func(e *Engagement) { e.DefaultHourlyRate = 0 }, true},
		{"hourly mode without rate", func(e *Engagement) {
			e.PricingMode = ModeHourly
			e.DefaultHourlyRate = -1
		}, true},
		{"package mode without cadence", func(e *Engagement) {
			e.PricingMode = ModePackage
			e.PackageCadence = ""
		}, true},
		{"unknown mode", func(e *Engagement) { e.PricingMode = "retainer" }, true},
		{"end before start", func(e *Engagement) {
			e.EndDate = e.StartDate.AddDate(0, 0, -1)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEngagement()
			tt.mutate(e)
			err := Validate(e)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPricingTerms)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	e := validEngagement()
	require.NoError(t, store.Create(ctx, e))

	t.Run("get scopes by firm", func(t *testing.T) {
		got, err := store.Get(ctx, "firm-1", "eng-1")
		require.NoError(t, err)
		assert.Equal(t, e.ClientID, got.ClientID)

		_, err = store.Get(ctx, "other-firm", "eng-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list current excludes completed", func(t *testing.T) {
		done := validEngagement()
		done.ID = "eng-2"
		done.Status = StatusCompleted
		require.NoError(t, store.Create(ctx, done))

		current, err := store.ListCurrent(ctx, "firm-1")
		require.NoError(t, err)
		require.Len(t, current, 1)
		assert.Equal(t, "eng-1", current[0].ID)
	})

	t.Run("set status", func(t *testing.T) {
		require.NoError(t, store.SetStatus(ctx, "firm-1", "eng-1", StatusOnHold))
		got, err := store.Get(ctx, "firm-1", "eng-1")
		require.NoError(t, err)
		assert.Equal(t, StatusOnHold, got.Status)

		assert.ErrorIs(t, store.SetStatus(ctx, "firm-1", "missing", StatusOnHold), ErrNotFound)
	})
}

func TestRenew(t *testing.T) {
	ctx := context.Background()

	t.Run("inherits terms and links parent", func(t *testing.T) {
		store := NewMemoryStore()
		rec := audit.NewRecorder()
		source := validEngagement()
		require.NoError(t, store.Create(ctx, source))

		renewer := NewRenewer(store, rec, nil)
		successor, err := renewer.Renew(ctx, "firm-1", "eng-1", nil, "ops@firm.test")
		require.NoError(t, err)

		assert.Equal(t, source.PricingMode, successor.PricingMode)
		assert.Equal(t, source.PackageFee, successor.PackageFee)
		assert.Equal(t, source.DefaultHourlyRate, successor.DefaultHourlyRate)
		require.NotNil(t, successor.ParentEngagementID)
		assert.Equal(t, "eng-1", *successor.ParentEngagementID)
		assert.Equal(t, source.EndDate.AddDate(0, 0, 1), successor.StartDate)
		assert.Equal(t, StatusCurrent, successor.Status)

		got, err := store.Get(ctx, "firm-1", "eng-1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)

		require.Len(t, rec.ByAction(audit.ActionEngagementRenewed), 1)
	})

	t.Run("applies overrides", func(t *testing.T) {
		store := NewMemoryStore()
		source := validEngagement()
		require.NoError(t, store.Create(ctx, source))

		newFee := billing.Cents(350000)
		renewer := NewRenewer(store, nil, nil)
		successor, err := renewer.Renew(ctx, "firm-1", "eng-1", &Terms{PackageFee: &newFee}, "ops@firm.test")
		require.NoError(t, err)
		assert.Equal(t, newFee, successor.PackageFee)
		assert.Equal(t, source.DefaultHourlyRate, successor.DefaultHourlyRate)
	})

	t.Run("rejects invalid override terms", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Create(ctx, validEngagement()))

		badFee := billing.Cents(0)
		renewer := NewRenewer(store, nil, nil)
		_, err := renewer.Renew(ctx, "firm-1", "eng-1", &Terms{PackageFee: &badFee}, "ops@firm.test")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidPricingTerms)

		// Source must be untouched after a rejected renewal.
		got, err := store.Get(ctx, "firm-1", "eng-1")
		require.NoError(t, err)
		assert.Equal(t, StatusCurrent, got.Status)
	})

	t.Run("rejects non-current engagement", func(t *testing.T) {
		store := NewMemoryStore()
		done := validEngagement()
		done.Status = StatusCompleted
		require.NoError(t, store.Create(ctx, done))

		renewer := NewRenewer(store, nil, nil)
		_, err := renewer.Renew(ctx, "firm-1", "eng-1", nil, "ops@firm.test")
		assert.Error(t, err)
	})
}
