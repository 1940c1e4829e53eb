package invoices

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintfield/billcore/pkg/billing"
)

func newStoredInvoice(t *testing.T, store *MemoryStore, status billing.InvoiceStatus) *Invoice {
	t.Helper()
	inv := &Invoice{
		ID: "inv-1", Number: "INV-eng-1-inv-1",
		FirmID: "firm-1", ClientID: "client-1", EngagementID: "eng-1",
		Subtotal: 50000, Total: 50000,
		Status:        status,
		AutopayStatus: billing.AutopayIdle,
	}
	require.NoError(t, store.Create(context.Background(), inv))
	return inv
}

func TestMemoryCASStatusHonorsLifecycle(t *testing.T) {
	store := NewMemoryStore()
	newStoredInvoice(t, store, billing.InvoiceStatusOverdue)

	// The from-state matches but the lifecycle table has no edge for it.
	err := store.CASStatus(context.Background(), "firm-1", "inv-1",
		[]billing.InvoiceStatus{billing.InvoiceStatusOverdue}, billing.InvoiceStatusFailed)
	assert.ErrorIs(t, err, ErrStatusConflict)

	inv, err := store.Get(context.Background(), "firm-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusOverdue, inv.Status)

	// A legal edge from the same state goes through.
	require.NoError(t, store.CASStatus(context.Background(), "firm-1", "inv-1",
		[]billing.InvoiceStatus{billing.InvoiceStatusOverdue}, billing.InvoiceStatusPaid))
}

func TestMemoryCASAutopayHonorsLifecycle(t *testing.T) {
	store := NewMemoryStore()
	newStoredInvoice(t, store, billing.InvoiceStatusSent)

	err := store.CASAutopay(context.Background(), "firm-1", "inv-1",
		billing.AutopayIdle, billing.AutopaySucceeded)
	assert.ErrorIs(t, err, ErrStatusConflict)

	require.NoError(t, store.CASAutopay(context.Background(), "firm-1", "inv-1",
		billing.AutopayIdle, billing.AutopayScheduled))
}
