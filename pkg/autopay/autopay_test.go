package autopay

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/billing"
	"github.com/mintfield/billcore/pkg/invoices"
	"github.com/mintfield/billcore/pkg/processor"
)

type autopayFixture struct {
	invoices *invoices.MemoryStore
	profiles *MemoryProfileStore
	client   *processor.FakeClient
	recorder *audit.Recorder
	sched    *Scheduler
	exec     *Executor
	now      time.Time
}

func newAutopayFixture(t *testing.T) *autopayFixture {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	f := &autopayFixture{
		invoices: invoices.NewMemoryStore(),
		profiles: NewMemoryProfileStore(),
		client:   processor.NewFakeClient(),
		recorder: audit.NewRecorder(),
		now:      time.Date(2026, time.August, 14, 12, 0, 0, 0, time.UTC),
	}
	f.sched = NewScheduler(f.invoices, f.profiles, f.recorder, log)
	f.exec = NewExecutor(f.invoices, f.profiles, f.client, f.recorder, log)
	f.exec.now = func() time.Time { return f.now }
	return f
}

func (f *autopayFixture) enroll(t *testing.T, clientID string) {
	t.Helper()
	require.NoError(t, f.profiles.Upsert(context.Background(), &Profile{
		FirmID: "firm-1", ClientID: clientID, Enabled: true, PaymentMethodID: "pm_1",
	}))
}

func (f *autopayFixture) addInvoice(t *testing.T, id string, total billing.Cents) *invoices.Invoice {
	t.Helper()
	inv := &invoices.Invoice{
		ID: id, Number: "INV-eng-1-" + id,
		FirmID: "firm-1", ClientID: "client-1", EngagementID: "eng-1",
		Subtotal: total, Total: total,
		Status:        billing.InvoiceStatusSent,
		IssueDate:     f.now.AddDate(0, 0, -30),
		DueDate:       f.now.AddDate(0, 0, -1),
		AutopayStatus: billing.AutopayIdle,
	}
	require.NoError(t, f.invoices.Create(context.Background(), inv))
	return inv
}

func (f *autopayFixture) scheduleDue(t *testing.T, invoiceID string, attempts int) {
	t.Helper()
	due := f.now.Add(-time.Minute)
	require.NoError(t, f.invoices.SetAutopaySchedule(context.Background(), "firm-1", invoiceID,
		billing.AutopayScheduled, &due, attempts))
}

func TestScheduleInvoice(t *testing.T) {
	f := newAutopayFixture(t)
	f.enroll(t, "client-1")
	f.addInvoice(t, "inv-1", 50000)

	require.NoError(t, f.sched.ScheduleInvoice(context.Background(), "firm-1", "inv-1"))

	inv, err := f.invoices.Get(context.Background(), "firm-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.AutopayScheduled, inv.AutopayStatus)
	require.NotNil(t, inv.NextChargeAt)

	// Scheduling again is a quiet no-op.
	require.NoError(t, f.sched.ScheduleInvoice(context.Background(), "firm-1", "inv-1"))
	assert.Len(t, f.recorder.ByAction(audit.ActionAutopayScheduled), 1)
}

func TestScheduleInvoiceRequiresEnrollment(t *testing.T) {
	f := newAutopayFixture(t)
	f.addInvoice(t, "inv-1", 50000)

	err := f.sched.ScheduleInvoice(context.Background(), "firm-1", "inv-1")
	assert.ErrorIs(t, err, ErrNotEnrolled)

	// An enabled profile without a stored method is not enrollment.
	require.NoError(t, f.profiles.Upsert(context.Background(), &Profile{
		FirmID: "firm-1", ClientID: "client-1", Enabled: true,
	}))
	err = f.sched.ScheduleInvoice(context.Background(), "firm-1", "inv-1")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestExecuteDueCharges(t *testing.T) {
	f := newAutopayFixture(t)
	f.enroll(t, "client-1")
	f.addInvoice(t, "inv-1", 50000)
	f.scheduleDue(t, "inv-1", 0)

	result, err := f.exec.ExecuteDue(context.Background(), "firm-1", f.now, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Charged)

	require.Len(t, f.client.Calls, 1)
	call := f.client.Calls[0]
	assert.Equal(t, "chg-inv-1-1", call.IdempotencyKey)
	assert.Equal(t, billing.Cents(50000), call.Amount)
	assert.Equal(t, "pm_1", call.PaymentMethodID)

	inv, err := f.invoices.Get(context.Background(), "firm-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.AutopaySucceeded, inv.AutopayStatus)

	// The payment is booked immediately; the webhook only confirms it.
	assert.Equal(t, billing.Cents(50000), inv.AmountPaid)
	assert.Equal(t, billing.InvoiceStatusPaid, inv.Status)
	require.NotNil(t, inv.LastChargeID)
	assert.Equal(t, "ch_1", *inv.LastChargeID)
}

func TestExecuteDueNeverChargesTwice(t *testing.T) {
	f := newAutopayFixture(t)
	f.enroll(t, "client-1")
	f.addInvoice(t, "inv-1", 50000)
	f.scheduleDue(t, "inv-1", 0)

	first, err := f.exec.ExecuteDue(context.Background(), "firm-1", f.now, false)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Charged)

	second, err := f.exec.ExecuteDue(context.Background(), "firm-1", f.now, false)
	require.NoError(t, err)
	assert.Zero(t, second.Charged)
	assert.Len(t, f.client.Calls, 1)
}

func TestExecuteDueDeclineSchedulesRetry(t *testing.T) {
	f := newAutopayFixture(t)
	f.enroll(t, "client-1")
	f.addInvoice(t, "inv-1", 50000)
	f.scheduleDue(t, "inv-1", 0)
	f.client.DeclineCode = "insufficient_funds"

	result, err := f.exec.ExecuteDue(context.Background(), "firm-1", f.now, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rescheduled)

	inv, err := f.invoices.Get(context.Background(), "firm-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.AutopayScheduled, inv.AutopayStatus)
	assert.Equal(t, 1, inv.AutopayAttempts)
	assert.Equal(t, billing.InvoiceStatusFailed, inv.Status)
	require.NotNil(t, inv.NextChargeAt)
	assert.Equal(t, f.now.Add(3*24*time.Hour), *inv.NextChargeAt)
	require.NotNil(t, inv.FailureCode)
	assert.Equal(t, "insufficient_funds", *inv.FailureCode)
	require.NotNil(t, inv.FailedAt)
	assert.Len(t, f.recorder.ByAction(audit.ActionAutopayFailed), 1)
}

func TestExecuteDueDeclineKeepsOverdueInvoice(t *testing.T) {
	f := newAutopayFixture(t)
	f.enroll(t, "client-1")
	f.addInvoice(t, "inv-1", 50000)
	require.NoError(t, f.invoices.CASStatus(context.Background(), "firm-1", "inv-1",
		[]billing.InvoiceStatus{billing.InvoiceStatusSent}, billing.InvoiceStatusOverdue))
	f.scheduleDue(t, "inv-1", 0)
	f.client.DeclineCode = "insufficient_funds"

	result, err := f.exec.ExecuteDue(context.Background(), "firm-1", f.now, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rescheduled)

	// The escalated status holds; only the failure details are recorded.
	inv, err := f.invoices.Get(context.Background(), "firm-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusOverdue, inv.Status)
	require.NotNil(t, inv.FailureCode)
}

func TestExecuteDueRetriesAreBounded(t *testing.T) {
	f := newAutopayFixture(t)
	f.enroll(t, "client-1")
	f.addInvoice(t, "inv-1", 50000)
	f.client.DeclineCode = "insufficient_funds"

	// Initial attempt plus every retry on the 3/7/14 day ladder.
	for attempt := 0; attempt <= maxRetries; attempt++ {
		f.scheduleDue(t, "inv-1", attempt)
		_, err := f.exec.ExecuteDue(context.Background(), "firm-1", f.now, false)
		require.NoError(t, err)
	}

	inv, err := f.invoices.Get(context.Background(), "firm-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.AutopayFailed, inv.AutopayStatus)
	assert.Equal(t, maxRetries+1, inv.AutopayAttempts)
	assert.Equal(t, billing.InvoiceStatusOverdue, inv.Status)
	assert.Len(t, f.client.Calls, maxRetries+1)
	assert.Len(t, f.recorder.ByAction(audit.ActionAutopayExhausted), 1)

	// A further run finds nothing to charge.
	result, err := f.exec.ExecuteDue(context.Background(), "firm-1", f.now, false)
	require.NoError(t, err)
	assert.Zero(t, result.Examined)
}

func TestExecuteDueOutageKeepsAttempt(t *testing.T) {
	f := newAutopayFixture(t)
	f.enroll(t, "client-1")
	f.addInvoice(t, "inv-1", 50000)
	f.scheduleDue(t, "inv-1", 0)
	f.client.Unavailable = true

	result, err := f.exec.ExecuteDue(context.Background(), "firm-1", f.now, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rescheduled)

	inv, err := f.invoices.Get(context.Background(), "firm-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.AutopayScheduled, inv.AutopayStatus)
	assert.Zero(t, inv.AutopayAttempts)
	assert.Equal(t, f.now.Add(outageRetryDelay), *inv.NextChargeAt)
}

func TestExecuteDueSkipsSettledInvoice(t *testing.T) {
	f := newAutopayFixture(t)
	f.enroll(t, "client-1")
	f.addInvoice(t, "inv-1", 50000)
	f.scheduleDue(t, "inv-1", 0)

	// A manual payment landed between scheduling and execution.
	_, err := f.invoices.AddPayment(context.Background(), "firm-1", "inv-1", 50000, "ch_manual")
	require.NoError(t, err)

	result, err := f.exec.ExecuteDue(context.Background(), "firm-1", f.now, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, f.client.Calls)

	inv, err := f.invoices.Get(context.Background(), "firm-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.AutopaySucceeded, inv.AutopayStatus)
}

func TestExecuteDueDryRun(t *testing.T) {
	f := newAutopayFixture(t)
	f.enroll(t, "client-1")
	f.addInvoice(t, "inv-1", 50000)
	f.scheduleDue(t, "inv-1", 0)

	result, err := f.exec.ExecuteDue(context.Background(), "firm-1", f.now, true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.WouldCharge)
	assert.Empty(t, f.client.Calls)

	inv, err := f.invoices.Get(context.Background(), "firm-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.AutopayScheduled, inv.AutopayStatus)
}

func TestExecuteDueParksUnenrolledClient(t *testing.T) {
	f := newAutopayFixture(t)
	f.enroll(t, "client-1")
	f.addInvoice(t, "inv-1", 50000)
	f.scheduleDue(t, "inv-1", 0)

	// Enrollment revoked after scheduling.
	require.NoError(t, f.profiles.Upsert(context.Background(), &Profile{
		FirmID: "firm-1", ClientID: "client-1", Enabled: false,
	}))

	result, err := f.exec.ExecuteDue(context.Background(), "firm-1", f.now, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, f.client.Calls)

	inv, err := f.invoices.Get(context.Background(), "firm-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.AutopayIdle, inv.AutopayStatus)
}
