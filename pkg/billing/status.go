package billing

import "errors"

// ErrInvalidTransition is returned when a lifecycle change is not present in
// the transition table for that lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// InvoiceStatus represents the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft       InvoiceStatus = "draft"
	InvoiceStatusSent        InvoiceStatus = "sent"
	InvoiceStatusPartial     InvoiceStatus = "partial"
	InvoiceStatusPaid        InvoiceStatus = "paid"
	InvoiceStatusOverdue     InvoiceStatus = "overdue"
	InvoiceStatusCancelled   InvoiceStatus = "cancelled"
	InvoiceStatusFailed      InvoiceStatus = "failed"
	InvoiceStatusDisputed    InvoiceStatus = "disputed"
	InvoiceStatusRefunded    InvoiceStatus = "refunded"
	InvoiceStatusChargedBack InvoiceStatus = "charged_back"
)

// AutopayStatus represents the state of automatic charging for an invoice.
type AutopayStatus string

const (
	AutopayIdle       AutopayStatus = "idle"
	AutopayScheduled  AutopayStatus = "scheduled"
	AutopayProcessing AutopayStatus = "processing"
	AutopaySucceeded  AutopayStatus = "succeeded"
	AutopayFailed     AutopayStatus = "failed"
)

// DisputeStatus represents the state of a payment dispute.
type DisputeStatus string

const (
	DisputeOpened      DisputeStatus = "opened"
	DisputeUnderReview DisputeStatus = "under_review"
	DisputeWon         DisputeStatus = "won"
	DisputeLost        DisputeStatus = "lost"
	DisputeClosed      DisputeStatus = "closed"
)

// TransitionTable is an exhaustive map of allowed lifecycle transitions.
type TransitionTable[S comparable] map[S][]S

// Allowed reports whether from → to is a legal transition. A transition to
// the current state is never allowed; callers treat that case as a no-op
// before consulting the table.
func (t TransitionTable[S]) Allowed(from, to S) bool {
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvoiceTransitions is the invoice lifecycle. Paid invoices may still move
// to disputed/refunded/charged_back because the money can leave after the
// fact; cancelled and charged_back are terminal.
var InvoiceTransitions = TransitionTable[InvoiceStatus]{
	InvoiceStatusDraft:    {InvoiceStatusSent, InvoiceStatusCancelled},
	InvoiceStatusSent:     {InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled, InvoiceStatusFailed, InvoiceStatusDisputed},
	InvoiceStatusPartial:  {InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusFailed, InvoiceStatusDisputed, InvoiceStatusCancelled},
	InvoiceStatusPaid:     {InvoiceStatusDisputed, InvoiceStatusRefunded, InvoiceStatusChargedBack},
	InvoiceStatusOverdue:  {InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusCancelled, InvoiceStatusDisputed},
	InvoiceStatusFailed:   {InvoiceStatusSent, InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled, InvoiceStatusDisputed},
	InvoiceStatusDisputed: {InvoiceStatusPaid, InvoiceStatusChargedBack, InvoiceStatusRefunded},
	InvoiceStatusRefunded: {},
	InvoiceStatusCancelled:   {},
	InvoiceStatusChargedBack: {},
}

// AutopayTransitions is the autopay lifecycle. failed → scheduled is the
// retry edge; the retry count cap is enforced by the executor, not the table.
var AutopayTransitions = TransitionTable[AutopayStatus]{
	AutopayIdle:       {AutopayScheduled},
	AutopayScheduled:  {AutopayProcessing, AutopayIdle},
	AutopayProcessing: {AutopaySucceeded, AutopayFailed},
	AutopayFailed:     {AutopayScheduled},
	AutopaySucceeded:  {},
}

// DisputeTransitions is the dispute lifecycle. A dispute is mutated once on
// closure and never reopened.
var DisputeTransitions = TransitionTable[DisputeStatus]{
	DisputeOpened:      {DisputeUnderReview, DisputeWon, DisputeLost, DisputeClosed},
	DisputeUnderReview: {DisputeWon, DisputeLost, DisputeClosed},
	DisputeWon:         {},
	DisputeLost:        {},
	DisputeClosed:      {},
}
