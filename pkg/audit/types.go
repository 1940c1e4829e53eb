package audit

import (
	"encoding/json"
	"time"
)

// Action identifies the billing operation an event records.
type Action string

const (
	// Invoice generation
	ActionInvoiceGenerated Action = "invoice.generated"
	ActionInvoiceDuplicate Action = "invoice.duplicate_skipped"
	ActionInvoiceSkipped   Action = "invoice.engagement_skipped"

	// Autopay
	ActionAutopayScheduled Action = "autopay.scheduled"
	ActionAutopayCharged   Action = "autopay.charge_succeeded"
	ActionAutopayFailed    Action = "autopay.charge_failed"
	ActionAutopayRetry     Action = "autopay.retry_scheduled"
	ActionAutopayExhausted Action = "autopay.retries_exhausted"

	// Credit ledger
	ActionCreditAdded   Action = "ledger.credit_added"
	ActionCreditApplied Action = "ledger.credit_applied"

	// Time entries
	ActionEntryApproved Action = "timeentry.approved"
	ActionEntryInvoiced Action = "timeentry.invoiced"

	// Processor events
	ActionEventDeduplicated Action = "processor.event_deduplicated"
	ActionEventRejected     Action = "processor.event_rejected"
	ActionPaymentFailed     Action = "processor.payment_failed"
	ActionPaymentSucceeded  Action = "processor.payment_succeeded"
	ActionDisputeOpened     Action = "processor.dispute_opened"
	ActionDisputeClosed     Action = "processor.dispute_closed"
	ActionRefundIssued      Action = "processor.refund_issued"

	// Engagements
	ActionEngagementRenewed Action = "engagement.renewed"
)

// Severity classifies how urgently a human should see the event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a single audit record. Actor is nil when the transition was made
// by a batch job rather than a person.
type Event struct {
	ID        int64          `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	FirmID    string         `json:"firm_id"`
	Action    Action         `json:"action"`
	Actor     *string        `json:"actor,omitempty"`
	Severity  Severity       `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ToJSON serializes the event for export sinks.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
