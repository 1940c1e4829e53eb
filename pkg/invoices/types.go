package invoices

import (
	"errors"
	"fmt"
	"time"

	"github.com/mintfield/billcore/pkg/billing"
)

var (
	// ErrNotFound is returned when an invoice does not exist for the firm.
	ErrNotFound = errors.New("invoice not found")

	// ErrStatusConflict is returned when a conditional status update finds
	// the invoice in a state outside the expected set. Callers treat this
	// as "someone else got there first", not as corruption.
	ErrStatusConflict = errors.New("invoice status conflict")

	// ErrNoBillableEntries is returned when an hourly invoice is requested
	// and the engagement has no approved, unbilled time.
	ErrNoBillableEntries = errors.New("no billable time entries")

	// ErrNotBillable is returned when a generation request targets an
	// engagement whose pricing mode does not cover that invoice kind.
	ErrNotBillable = errors.New("engagement does not bill this way")
)

// Invoice is a bill issued to a client. Monetary fields are integer cents.
// PeriodStart/PeriodEnd are set only for package and combined invoices;
// hourly-only invoices have no recurring period.
type Invoice struct {
	ID           string  `json:"id"`
	Number       string  `json:"number"`
	FirmID       string  `json:"firm_id"`
	ClientID     string  `json:"client_id"`
	EngagementID string  `json:"engagement_id"`

	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`

	LineItems []billing.LineItem `json:"line_items"`

	Subtotal      billing.Cents `json:"subtotal_cents"`
	Tax           billing.Cents `json:"tax_cents"`
	Total         billing.Cents `json:"total_cents"`
	AmountPaid    billing.Cents `json:"amount_paid_cents"`
	CreditApplied billing.Cents `json:"credit_applied_cents"`

	Status    billing.InvoiceStatus `json:"status"`
	IssueDate time.Time             `json:"issue_date"`
	DueDate   time.Time             `json:"due_date"`

	AutopayStatus   billing.AutopayStatus `json:"autopay_status"`
	AutopayAttempts int                   `json:"autopay_attempts"`
	NextChargeAt    *time.Time            `json:"next_charge_at,omitempty"`

	// LastChargeID is the processor charge that most recently paid into
	// this invoice. Refunds are issued against it.
	LastChargeID *string `json:"last_charge_id,omitempty"`

	FailureCode    *string    `json:"failure_code,omitempty"`
	FailureMessage *string    `json:"failure_message,omitempty"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceDue is the amount still owed after payments and applied credit.
func (i *Invoice) BalanceDue() billing.Cents {
	due := i.Total - i.AmountPaid - i.CreditApplied
	if due < 0 {
		return 0
	}
	return due
}

// Settled reports whether nothing is owed on the invoice.
func (i *Invoice) Settled() bool {
	return i.BalanceDue() == 0
}

// Number builds the deterministic invoice number. Package invoices key on
// the billing period start, so repeated generation for the same period
// always produces the same number.
func Number(engagementID, periodKey string) string {
	return fmt.Sprintf("INV-%s-%s", engagementID, periodKey)
}
