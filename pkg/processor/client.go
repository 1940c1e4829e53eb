package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mintfield/billcore/pkg/billing"
)

var (
	// ErrChargeDeclined is returned when the processor refuses a charge.
	// The decline code and message travel on the ChargeResult.
	ErrChargeDeclined = errors.New("charge declined")

	// ErrProcessorUnavailable is returned on transport failures and 5xx
	// responses. Callers retry later; the idempotency key makes the retry
	// safe.
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
)

// ChargeRequest asks the processor to charge a stored payment method.
type ChargeRequest struct {
	// IdempotencyKey makes retried submissions of the same charge
	// attempt collapse into one charge on the processor side.
	IdempotencyKey string `json:"-"`

	Amount          billing.Cents `json:"amount_cents"`
	Currency        string        `json:"currency"`
	PaymentMethodID string        `json:"payment_method_id"`
	InvoiceID       string        `json:"invoice_id"`
	Description     string        `json:"description,omitempty"`
}

// ChargeResult is the processor's answer to a charge request.
type ChargeResult struct {
	ChargeID    string `json:"charge_id"`
	Status      string `json:"status"`
	DeclineCode string `json:"decline_code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// RefundRequest asks the processor to return money from a prior charge.
type RefundRequest struct {
	ChargeID string        `json:"charge_id"`
	Amount   billing.Cents `json:"amount_cents"`
	Reason   string        `json:"reason,omitempty"`
}

// RefundResult is the processor's answer to a refund request.
type RefundResult struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// Client is the outbound payment processor interface.
type Client interface {
	CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
	CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error)
}

// HTTPClient talks to the processor's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logrus.Logger
}

// NewHTTPClient creates a processor client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, log *logrus.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (c *HTTPClient) CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	var result ChargeResult
	status, err := c.post(ctx, "/v1/charges", req.IdempotencyKey, req, &result)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusPaymentRequired || result.Status == "declined":
		return &result, fmt.Errorf("%s: %w", result.DeclineCode, ErrChargeDeclined)
	case status >= 400:
		return nil, fmt.Errorf("processor returned %d: %w", status, ErrProcessorUnavailable)
	}
	return &result, nil
}

func (c *HTTPClient) CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	var result RefundResult
	status, err := c.post(ctx, "/v1/refunds", "", req, &result)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("processor returned %d: %w", status, ErrProcessorUnavailable)
	}
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, path, idempotencyKey string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, ErrProcessorUnavailable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return resp.StatusCode, fmt.Errorf("processor returned %d: %w", resp.StatusCode, ErrProcessorUnavailable)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// FakeClient is an in-memory Client for tests. Charges succeed unless a
// decline or outage is programmed. Submissions are recorded per idempotency
// key so tests can assert non-duplication.
type FakeClient struct {
	DeclineCode string
	Unavailable bool

	charges map[string]*ChargeResult
	Calls   []*ChargeRequest
	Refunds []*RefundRequest
}

// NewFakeClient creates an empty fake.
func NewFakeClient() *FakeClient {
	return &FakeClient{charges: make(map[string]*ChargeResult)}
}

func (f *FakeClient) CreateCharge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	f.Calls = append(f.Calls, req)
	if f.Unavailable {
		return nil, ErrProcessorUnavailable
	}
	if f.DeclineCode != "" {
		return &ChargeResult{Status: "declined", DeclineCode: f.DeclineCode, Message: "card declined"},
			fmt.Errorf("%s: %w", f.DeclineCode, ErrChargeDeclined)
	}
	if prior, ok := f.charges[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return prior, nil
	}
	result := &ChargeResult{
		ChargeID: fmt.Sprintf("ch_%d", len(f.charges)+1),
		Status:   "succeeded",
	}
	if req.IdempotencyKey != "" {
		f.charges[req.IdempotencyKey] = result
	}
	return result, nil
}

func (f *FakeClient) CreateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	f.Refunds = append(f.Refunds, req)
	if f.Unavailable {
		return nil, ErrProcessorUnavailable
	}
	return &RefundResult{RefundID: fmt.Sprintf("re_%d", len(f.Refunds)), Status: "succeeded"}, nil
}
