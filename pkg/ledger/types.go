package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/mintfield/billcore/pkg/billing"
)

var (
	// ErrApprovalRequired is returned when an actor without the elevated
	// capability records a goodwill or correction credit.
	ErrApprovalRequired = errors.New("approval required for this credit source")

	// ErrInsufficientCredit is returned when an application exceeds the
	// client's available balance.
	ErrInsufficientCredit = errors.New("insufficient credit balance")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("ledger amounts must be positive")
)

// EntryType is the accounting side of a ledger entry.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// Source is the business reason for a ledger entry.
type Source string

const (
	SourceOverpayment Source = "overpayment"
	SourceRefund      Source = "refund"
	SourceGoodwill    Source = "goodwill"
	SourcePromo       Source = "promo"
	SourceCorrection  Source = "correction"
	// SourceApplication marks the debit side of applying credit to an
	// invoice.
	SourceApplication Source = "application"
)

// RequiresElevation reports whether recording this source needs the elevated
// capability.
func (s Source) RequiresElevation() bool {
	return s == SourceGoodwill || s == SourceCorrection
}

// Entry is one immutable row in the credit ledger.
type Entry struct {
	ID        string        `json:"id"`
	FirmID    string        `json:"firm_id"`
	ClientID  string        `json:"client_id"`
	Type      EntryType     `json:"type"`
	Amount    billing.Cents `json:"amount_cents"`
	Source    Source        `json:"source"`
	InvoiceID *string       `json:"invoice_id,omitempty"`
	CreatedBy string        `json:"created_by"`
	CreatedAt time.Time     `json:"created_at"`
}

// Application records that part of one credit entry funded one invoice.
type Application struct {
	ID        string        `json:"id"`
	FirmID    string        `json:"firm_id"`
	ClientID  string        `json:"client_id"`
	InvoiceID string        `json:"invoice_id"`
	EntryID   string        `json:"entry_id"`
	Amount    billing.Cents `json:"amount_cents"`
	CreatedAt time.Time     `json:"created_at"`
}

// CapabilityChecker is the boundary to the external permission collaborator.
// The ledger asks it whether an actor holds the elevated billing capability;
// it does not implement permissions itself.
type CapabilityChecker interface {
	HasCapability(ctx context.Context, firmID, actor, capability string) bool
}

// CapabilityAdjustCredit is the capability gating goodwill and correction
// credits.
const CapabilityAdjustCredit = "billing.credit.adjust"

// AllowAll is a CapabilityChecker that grants everything. Tests and trusted
// internal callers use it.
type AllowAll struct{}

func (AllowAll) HasCapability(ctx context.Context, firmID, actor, capability string) bool {
	return true
}
