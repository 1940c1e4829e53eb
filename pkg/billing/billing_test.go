package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCentsDollars(t *testing.T) {
	assert.Equal(t, "$0.00", Cents(0).Dollars())
	assert.Equal(t, "$45.00", Cents(4500).Dollars())
	assert.Equal(t, "$0.05", Cents(5).Dollars())
	assert.Equal(t, "-$12.34", Cents(-1234).Dollars())
}

func TestCentsMulHours(t *testing.T) {
	// 10 hours at $150/hr
	assert.Equal(t, Cents(150000), Cents(15000).MulHours(10))
	// 1.5 hours at $99.99/hr rounds to the nearest cent
	assert.Equal(t, Cents(14999), Cents(9999).MulHours(1.5))
	assert.Equal(t, Cents(0), Cents(15000).MulHours(0))
}

func TestCadencePeriodFor(t *testing.T) {
	today := time.Date(2026, time.August, 14, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		cadence   Cadence
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "monthly covers first to last day of month",
			cadence:   CadenceMonthly,
			wantStart: time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, time.August, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "quarterly covers calendar quarter",
			cadence:   CadenceQuarterly,
			wantStart: time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, time.September, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "annual covers calendar year",
			cadence:   CadenceAnnual,
			wantStart: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.cadence.PeriodFor(today, time.Time{}, time.Time{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, p.Start)
			assert.Equal(t, tt.wantEnd, p.End)
		})
	}

	t.Run("one_time uses the engagement window", func(t *testing.T) {
		ws := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
		we := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)
		p, err := CadenceOneTime.PeriodFor(today, ws, we)
		require.NoError(t, err)
		assert.Equal(t, ws, p.Start)
		assert.Equal(t, we, p.End)
	})

	t.Run("one_time without a window fails", func(t *testing.T) {
		_, err := CadenceOneTime.PeriodFor(today, time.Time{}, time.Time{})
		assert.Error(t, err)
	})

	t.Run("unknown cadence fails", func(t *testing.T) {
		_, err := Cadence("weekly").PeriodFor(today, time.Time{}, time.Time{})
		assert.Error(t, err)
	})
}

func TestPeriodKey(t *testing.T) {
	p := Period{Start: time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "2026-08-01", p.Key())
}

func TestInvoiceTransitions(t *testing.T) {
	tests := []struct {
		from, to InvoiceStatus
		allowed  bool
	}{
		{InvoiceStatusDraft, InvoiceStatusSent, true},
		{InvoiceStatusSent, InvoiceStatusPaid, true},
		{InvoiceStatusSent, InvoiceStatusFailed, true},
		{InvoiceStatusFailed, InvoiceStatusOverdue, true},
		{InvoiceStatusPaid, InvoiceStatusDisputed, true},
		{InvoiceStatusDisputed, InvoiceStatusChargedBack, true},
		{InvoiceStatusDisputed, InvoiceStatusPaid, true},
		{InvoiceStatusPaid, InvoiceStatusSent, false},
		{InvoiceStatusRefunded, InvoiceStatusPaid, false},
		{InvoiceStatusChargedBack, InvoiceStatusPaid, false},
		{InvoiceStatusCancelled, InvoiceStatusSent, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, InvoiceTransitions.Allowed(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestAutopayTransitions(t *testing.T) {
	assert.True(t, AutopayTransitions.Allowed(AutopayIdle, AutopayScheduled))
	assert.True(t, AutopayTransitions.Allowed(AutopayScheduled, AutopayProcessing))
	assert.True(t, AutopayTransitions.Allowed(AutopayProcessing, AutopayFailed))
	assert.True(t, AutopayTransitions.Allowed(AutopayFailed, AutopayScheduled))
	assert.False(t, AutopayTransitions.Allowed(AutopaySucceeded, AutopayScheduled))
	assert.False(t, AutopayTransitions.Allowed(AutopayIdle, AutopayProcessing))
}

func TestDisputeTransitions(t *testing.T) {
	assert.True(t, DisputeTransitions.Allowed(DisputeOpened, DisputeWon))
	assert.True(t, DisputeTransitions.Allowed(DisputeOpened, DisputeUnderReview))
	assert.True(t, DisputeTransitions.Allowed(DisputeUnderReview, DisputeLost))
	assert.False(t, DisputeTransitions.Allowed(DisputeWon, DisputeOpened))
	assert.False(t, DisputeTransitions.Allowed(DisputeLost, DisputeWon))
}

func TestSubtotal(t *testing.T) {
	items := []LineItem{
		{Type: LineItemPackageFee, Quantity: 1, Rate: 300000, Amount: 300000},
		{Type: LineItemHourlyLabor, Quantity: 10, Rate: 15000, Amount: 150000},
	}
	assert.Equal(t, Cents(450000), Subtotal(items))
	assert.Equal(t, Cents(0), Subtotal(nil))
}
