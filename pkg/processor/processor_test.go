package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintfield/billcore/pkg/billing"
)

func TestParseEvent(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"event_id":"evt_1","type":"charge.succeeded","charge_id":"ch_1","invoice_id":"inv-1","firm_id":"firm-1","amount_cents":20000}`)

	t.Run("valid signature", func(t *testing.T) {
		e, err := ParseEvent(payload, Sign(payload, secret), secret)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", e.EventID)
		assert.Equal(t, EventChargeSucceeded, e.Type)
		assert.Equal(t, billing.Cents(20000), e.Amount)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := ParseEvent(payload, Sign(payload, "wrong"), secret)
		assert.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		sig := Sign(payload, secret)
		tampered := []byte(`{"event_id":"evt_1","type":"charge.succeeded","amount_cents":1}`)
		_, err := ParseEvent(tampered, sig, secret)
		assert.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("missing event id", func(t *testing.T) {
		body := []byte(`{"type":"charge.succeeded"}`)
		_, err := ParseEvent(body, Sign(body, secret), secret)
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}

func TestHTTPClientCreateCharge(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/v1/charges", r.URL.Path)

		var req ChargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, billing.Cents(20000), req.Amount)

		json.NewEncoder(w).Encode(ChargeResult{ChargeID: "ch_1", Status: "succeeded"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "sk_test", time.Second, logrus.New())
	result, err := client.CreateCharge(context.Background(), &ChargeRequest{
		IdempotencyKey:  "chg-inv-1-1",
		Amount:          20000,
		Currency:        "usd",
		PaymentMethodID: "pm_1",
		InvoiceID:       "inv-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ch_1", result.ChargeID)
	assert.Equal(t, "chg-inv-1-1", gotKey)
	assert.Equal(t, "Bearer sk_test", gotAuth)
}

func TestHTTPClientChargeDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(ChargeResult{Status: "declined", DeclineCode: "insufficient_funds"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "sk_test", time.Second, logrus.New())
	result, err := client.CreateCharge(context.Background(), &ChargeRequest{Amount: 100, InvoiceID: "inv-1"})
	require.ErrorIs(t, err, ErrChargeDeclined)
	require.NotNil(t, result)
	assert.Equal(t, "insufficient_funds", result.DeclineCode)
}

func TestHTTPClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "sk_test", time.Second, logrus.New())
	_, err := client.CreateCharge(context.Background(), &ChargeRequest{Amount: 100, InvoiceID: "inv-1"})
	assert.ErrorIs(t, err, ErrProcessorUnavailable)
}

func TestRedisDedup(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	dedup, err := NewRedisDedup(client, time.Hour, logrus.New())
	require.NoError(t, err)
	defer dedup.Close()

	ctx := context.Background()
	first, err := dedup.FirstSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := dedup.FirstSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := dedup.FirstSeen(ctx, "evt_2")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestRedisDedupFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	dedup, err := NewRedisDedup(client, time.Hour, log)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := dedup.FirstSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	// An id seen while Redis was up is still caught after the outage.
	mr.Close()
	again, err := dedup.FirstSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, again)

	fresh, err := dedup.FirstSeen(ctx, "evt_2")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryDedup(t *testing.T) {
	dedup, err := NewMemoryDedup()
	require.NoError(t, err)

	ctx := context.Background()
	first, err := dedup.FirstSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := dedup.FirstSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, dedup.Forget(ctx, "evt_1"))
	released, err := dedup.FirstSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestFakeClientIdempotency(t *testing.T) {
	fake := NewFakeClient()
	ctx := context.Background()

	first, err := fake.CreateCharge(ctx, &ChargeRequest{IdempotencyKey: "chg-1-1", Amount: 100})
	require.NoError(t, err)
	second, err := fake.CreateCharge(ctx, &ChargeRequest{IdempotencyKey: "chg-1-1", Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, first.ChargeID, second.ChargeID)
	assert.Len(t, fake.Calls, 2)
}
