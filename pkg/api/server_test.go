package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/autopay"
	"github.com/mintfield/billcore/pkg/billing"
	"github.com/mintfield/billcore/pkg/config"
	"github.com/mintfield/billcore/pkg/engagement"
	"github.com/mintfield/billcore/pkg/invoices"
	"github.com/mintfield/billcore/pkg/ledger"
	"github.com/mintfield/billcore/pkg/processor"
	"github.com/mintfield/billcore/pkg/reconcile"
	"github.com/mintfield/billcore/pkg/timeentry"
)

const testWebhookSecret = "whsec_test"

type apiFixture struct {
	server      *Server
	engagements *engagement.MemoryStore
	entries     *timeentry.MemoryStore
	invoices    *invoices.MemoryStore
	profiles    *autopay.MemoryProfileStore
	disputes    *reconcile.MemoryDisputeStore
	client      *processor.FakeClient
	recorder    *audit.Recorder
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	f := &apiFixture{
		engagements: engagement.NewMemoryStore(),
		entries:     timeentry.NewMemoryStore(),
		invoices:    invoices.NewMemoryStore(),
		profiles:    autopay.NewMemoryProfileStore(),
		disputes:    reconcile.NewMemoryDisputeStore(),
		client:      processor.NewFakeClient(),
		recorder:    audit.NewRecorder(),
	}

	dedup, err := processor.NewMemoryDedup()
	require.NoError(t, err)

	credits := ledger.NewService(ledger.NewMemoryStore(), ledger.AllowAll{}, f.recorder, log)
	policies := config.NewPolicyResolver()
	generator := invoices.NewGenerator(f.engagements, f.invoices, f.entries, credits, policies, f.recorder, log)
	reconciler := reconcile.NewService(f.invoices, f.disputes, credits, f.client, dedup, f.recorder, log)

	f.server = NewServer(Dependencies{
		Engagements:   f.engagements,
		Renewer:       engagement.NewRenewer(f.engagements, f.recorder, log),
		Entries:       f.entries,
		Gate:          timeentry.NewGate(f.entries, f.recorder, log),
		Invoices:      f.invoices,
		Generator:     generator,
		Scheduler:     autopay.NewScheduler(f.invoices, f.profiles, f.recorder, log),
		Executor:      autopay.NewExecutor(f.invoices, f.profiles, f.client, f.recorder, log),
		Profiles:      f.profiles,
		Reconciler:    reconciler,
		Disputes:      f.disputes,
		Credits:       credits,
		WebhookSecret: testWebhookSecret,
		Audit:         f.recorder,
		Log:           log,
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func (f *apiFixture) addEngagement(t *testing.T, id string, mode engagement.PricingMode, fee, rate billing.Cents) {
	t.Helper()
	now := time.Now().UTC()
	cadence := billing.CadenceMonthly
	if mode == engagement.ModeHourly {
		cadence = ""
	}
	require.NoError(t, f.engagements.Create(context.Background(), &engagement.Engagement{
		ID: id, FirmID: "firm-1", ClientID: "client-1",
		PricingMode: mode, PackageFee: fee, PackageCadence: cadence,
		DefaultHourlyRate: rate,
		StartDate:         now.AddDate(0, -6, 0), EndDate: now.AddDate(0, 6, 0),
		Status: engagement.StatusCurrent, CreatedAt: now, UpdatedAt: now,
	}))
}

func (f *apiFixture) addInvoice(t *testing.T, id string, total billing.Cents, status billing.InvoiceStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.invoices.Create(context.Background(), &invoices.Invoice{
		ID: id, Number: "INV-eng-1-" + id,
		FirmID: "firm-1", ClientID: "client-1", EngagementID: "eng-1",
		Subtotal: total, Total: total,
		Status:        status,
		IssueDate:     now.AddDate(0, 0, -40),
		DueDate:       now.AddDate(0, 0, -10),
		AutopayStatus: billing.AutopayIdle,
	}))
}

func TestEngagementLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "POST", "/v1/firms/firm-1/engagements", map[string]interface{}{
		"client_id":         "client-1",
		"pricing_mode":      "package",
		"package_fee_cents": 200000,
		"package_cadence":   "monthly",
		"start_date":        "2026-01-01T00:00:00Z",
		"end_date":          "2026-12-31T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created engagement.Engagement
	decodeBody(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "firm-1", created.FirmID)
	assert.Equal(t, engagement.StatusCurrent, created.Status)

	rec = f.do(t, "GET", "/v1/firms/firm-1/engagements/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Another firm cannot see it.
	rec = f.do(t, "GET", "/v1/firms/firm-2/engagements/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "GET", "/v1/firms/firm-1/engagements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Engagements []*engagement.Engagement `json:"engagements"`
	}
	decodeBody(t, rec, &listed)
	assert.Len(t, listed.Engagements, 1)
}

func TestCreateEngagementValidation(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("end before start", func(t *testing.T) {
		rec := f.do(t, "POST", "/v1/firms/firm-1/engagements", map[string]interface{}{
			"client_id":    "client-1",
			"pricing_mode": "hourly",
			"start_date":   "2026-12-01T00:00:00Z",
			"end_date":     "2026-01-01T00:00:00Z",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("package without fee", func(t *testing.T) {
		rec := f.do(t, "POST", "/v1/firms/firm-1/engagements", map[string]interface{}{
			"client_id":       "client-1",
			"pricing_mode":    "package",
			"package_cadence": "monthly",
			"start_date":      "2026-01-01T00:00:00Z",
			"end_date":        "2026-12-31T00:00:00Z",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestRenewEngagement(t *testing.T) {
	f := newAPIFixture(t)
	f.addEngagement(t, "eng-1", engagement.ModePackage, 200000, 0)

	rec := f.do(t, "POST", "/v1/firms/firm-1/engagements/eng-1/renew", map[string]interface{}{
		"package_fee_cents": 250000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var successor engagement.Engagement
	decodeBody(t, rec, &successor)
	assert.NotEqual(t, "eng-1", successor.ID)
	assert.Equal(t, billing.Cents(250000), successor.PackageFee)
	require.NotNil(t, successor.ParentEngagementID)
	assert.Equal(t, "eng-1", *successor.ParentEngagementID)
}

func TestTimeEntryFlow(t *testing.T) {
	f := newAPIFixture(t)
	f.addEngagement(t, "eng-1", engagement.ModeHourly, 0, 15000)

	rec := f.do(t, "POST", "/v1/firms/firm-1/time-entries", map[string]interface{}{
		"engagement_id": "eng-1",
		"hours":         2.5,
		"description":   "quarterly filing",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var entry timeentry.Entry
	decodeBody(t, rec, &entry)
	assert.Equal(t, billing.Cents(15000), entry.HourlyRate)
	assert.False(t, entry.Approved)

	rec = f.do(t, "POST", "/v1/firms/firm-1/time-entries/"+entry.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/v1/firms/firm-1/time-entries/"+entry.ID+"/revoke", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, "POST", "/v1/firms/firm-1/time-entries/missing/approve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHourlyInvoiceEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.addEngagement(t, "eng-1", engagement.ModeHourly, 0, 15000)

	t.Run("no billable entries", func(t *testing.T) {
		rec := f.do(t, "POST", "/v1/firms/firm-1/engagements/eng-1/invoice", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	rec := f.do(t, "POST", "/v1/firms/firm-1/time-entries", map[string]interface{}{
		"engagement_id": "eng-1",
		"hours":         4.0,
		"date":          time.Now().UTC().AddDate(0, 0, -1).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry timeentry.Entry
	decodeBody(t, rec, &entry)

	rec = f.do(t, "POST", "/v1/firms/firm-1/time-entries/"+entry.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/v1/firms/firm-1/engagements/eng-1/invoice", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var inv invoices.Invoice
	decodeBody(t, rec, &inv)
	assert.Equal(t, billing.Cents(60000), inv.Total)
	assert.Equal(t, billing.InvoiceStatusSent, inv.Status)
}

func TestPackageInvoiceBatchEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.addEngagement(t, "eng-1", engagement.ModePackage, 200000, 0)

	rec := f.do(t, "POST", "/v1/batch/package-invoices?firm_id=firm-1", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var result invoices.BatchResult
	decodeBody(t, rec, &result)
	assert.Equal(t, 1, result.Generated)

	// Replaying the sweep hits the period uniqueness guarantee.
	rec = f.do(t, "POST", "/v1/batch/package-invoices?firm_id=firm-1", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	decodeBody(t, rec, &result)
	assert.Equal(t, 0, result.Generated)
	assert.Equal(t, 1, result.Duplicates)
}

func TestWebhookEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.addInvoice(t, "inv-1", 50000, billing.InvoiceStatusSent)

	payload := []byte(fmt.Sprintf(`{
		"event_id": "evt_1",
		"type": "charge.succeeded",
		"firm_id": "firm-1",
		"invoice_id": "inv-1",
		"charge_id": "ch_1",
		"amount_cents": 50000
	}`))

	t.Run("bad signature", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/webhooks/processor", bytes.NewReader(payload))
		req.Header.Set(SignatureHeader, "sha256=deadbeef")
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Len(t, f.recorder.ByAction(audit.ActionEventRejected), 1)
	})

	t.Run("applies event", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/webhooks/processor", bytes.NewReader(payload))
		req.Header.Set(SignatureHeader, processor.Sign(payload, testWebhookSecret))
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		inv, err := f.invoices.Get(context.Background(), "firm-1", "inv-1")
		require.NoError(t, err)
		assert.Equal(t, billing.InvoiceStatusPaid, inv.Status)
		assert.Equal(t, billing.Cents(50000), inv.AmountPaid)
	})

	t.Run("malformed payload", func(t *testing.T) {
		body := []byte(`{"event_id": `)
		req := httptest.NewRequest("POST", "/v1/webhooks/processor", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, processor.Sign(body, testWebhookSecret))
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAutopayEndToEnd(t *testing.T) {
	f := newAPIFixture(t)
	f.addInvoice(t, "inv-1", 50000, billing.InvoiceStatusSent)

	rec := f.do(t, "PUT", "/v1/firms/firm-1/clients/client-1/autopay-profile", map[string]interface{}{
		"enabled":           true,
		"payment_method_id": "pm_1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, "POST", "/v1/firms/firm-1/invoices/inv-1/schedule-autopay", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, "POST", "/v1/batch/recurring-charges?firm_id=firm-1", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var result autopay.RunResult
	decodeBody(t, rec, &result)
	assert.Equal(t, 1, result.Charged)

	inv, err := f.invoices.Get(context.Background(), "firm-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.AutopaySucceeded, inv.AutopayStatus)
	assert.Equal(t, billing.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, billing.Cents(50000), inv.AmountPaid)
}

func TestAutopayProfileRequiresPaymentMethod(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "PUT", "/v1/firms/firm-1/clients/client-1/autopay-profile", map[string]interface{}{
		"enabled": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleAutopayUnenrolled(t *testing.T) {
	f := newAPIFixture(t)
	f.addInvoice(t, "inv-1", 50000, billing.InvoiceStatusSent)

	rec := f.do(t, "POST", "/v1/firms/firm-1/invoices/inv-1/schedule-autopay", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRefundEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.addInvoice(t, "inv-1", 50000, billing.InvoiceStatusSent)

	// Pay it through a processor event so LastChargeID is recorded.
	payload := []byte(`{"event_id":"evt_1","type":"charge.succeeded","firm_id":"firm-1","invoice_id":"inv-1","charge_id":"ch_1","amount_cents":50000}`)
	req := httptest.NewRequest("POST", "/v1/webhooks/processor", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, processor.Sign(payload, testWebhookSecret))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	res := f.do(t, "POST", "/v1/firms/firm-1/invoices/inv-1/refund", map[string]interface{}{
		"amount_cents": 50000,
		"reason":       "service not delivered",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	inv, err := f.invoices.Get(context.Background(), "firm-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusRefunded, inv.Status)
	require.Len(t, f.client.Refunds, 1)
}

func TestRefundProcessorUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	f.addInvoice(t, "inv-1", 50000, billing.InvoiceStatusSent)

	payload := []byte(`{"event_id":"evt_1","type":"charge.succeeded","firm_id":"firm-1","invoice_id":"inv-1","charge_id":"ch_1","amount_cents":50000}`)
	req := httptest.NewRequest("POST", "/v1/webhooks/processor", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, processor.Sign(payload, testWebhookSecret))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	f.client.Unavailable = true
	res := f.do(t, "POST", "/v1/firms/firm-1/invoices/inv-1/refund", map[string]interface{}{
		"amount_cents": 50000,
		"reason":       "service not delivered",
	})
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
}

func TestRefundRejectsUnpaid(t *testing.T) {
	f := newAPIFixture(t)
	f.addInvoice(t, "inv-1", 50000, billing.InvoiceStatusSent)

	rec := f.do(t, "POST", "/v1/firms/firm-1/invoices/inv-1/refund", map[string]interface{}{
		"amount_cents": 50000,
		"reason":       "oops",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreditEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "POST", "/v1/firms/firm-1/credits", map[string]interface{}{
		"client_id":    "client-1",
		"amount_cents": 30000,
		"source":       "goodwill",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, "GET", "/v1/firms/firm-1/clients/client-1/credit-balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var balance struct {
		BalanceCents   billing.Cents `json:"balance_cents"`
		AvailableCents billing.Cents `json:"available_cents"`
	}
	decodeBody(t, rec, &balance)
	assert.Equal(t, billing.Cents(30000), balance.BalanceCents)
	assert.Equal(t, billing.Cents(30000), balance.AvailableCents)
}

func TestGetInvoiceNotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, "GET", "/v1/firms/firm-1/invoices/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListInvoicesRequiresClient(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, "GET", "/v1/firms/firm-1/invoices", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
