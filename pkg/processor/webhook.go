package processor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mintfield/billcore/pkg/billing"
)

// EventType identifies the kind of processor webhook event.
type EventType string

const (
	EventChargeSucceeded EventType = "charge.succeeded"
	EventChargeFailed    EventType = "charge.failed"
	EventDisputeOpened   EventType = "dispute.opened"
	EventDisputeClosed   EventType = "dispute.closed"
)

var (
	// ErrBadSignature is returned when the webhook signature does not
	// match the shared secret. The payload is untrusted and dropped.
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrMalformedEvent is returned when the payload cannot be decoded or
	// is missing its event id.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// Event is a decoded processor webhook event. EventID is the processor's
// delivery identifier and the deduplication key; redeliveries carry the same
// EventID.
type Event struct {
	EventID   string    `json:"event_id"`
	Type      EventType `json:"type"`
	CreatedAt time.Time `json:"created_at"`

	ChargeID    string        `json:"charge_id,omitempty"`
	InvoiceID   string        `json:"invoice_id,omitempty"`
	FirmID      string        `json:"firm_id,omitempty"`
	Amount      billing.Cents `json:"amount_cents,omitempty"`
	FailureCode string        `json:"failure_code,omitempty"`
	Message     string        `json:"message,omitempty"`

	// DisputeID and Outcome are set on dispute events. Outcome is "won"
	// or "lost" on dispute.closed.
	DisputeID string `json:"dispute_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// Sign computes the signature header value for a payload. The processor
// signs with HMAC-SHA256 over the raw body.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// ParseEvent verifies the signature and decodes the event. Verification
// happens before decoding so malformed hostile payloads never reach the
// JSON decoder.
func ParseEvent(payload []byte, signature, secret string) (*Event, error) {
	if !VerifySignature(payload, signature, secret) {
		return nil, ErrBadSignature
	}
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.EventID == "" {
		return nil, fmt.Errorf("%w: missing event_id", ErrMalformedEvent)
	}
	return &e, nil
}
