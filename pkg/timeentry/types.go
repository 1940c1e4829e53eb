package timeentry

import (
	"errors"
	"time"

	"github.com/mintfield/billcore/pkg/billing"
)

var (
	// ErrNotFound is returned when an entry does not exist for the firm.
	ErrNotFound = errors.New("time entry not found")

	// ErrImmutableAfterInvoicing is returned when a caller tries to revoke
	// approval on an entry that has already been invoiced.
	ErrImmutableAfterInvoicing = errors.New("time entry is immutable after invoicing")

	// ErrNotApproved is returned when an unapproved entry reaches the
	// invoicing path. This is an integrity violation, never a retry case.
	ErrNotApproved = errors.New("time entry is not approved for billing")

	// ErrAlreadyInvoiced is returned when invoicing is attempted on an
	// entry a previous invoice already consumed.
	ErrAlreadyInvoiced = errors.New("time entry already invoiced")
)

// Entry is a logged unit of work against an engagement.
type Entry struct {
	ID           string        `json:"id"`
	FirmID       string        `json:"firm_id"`
	EngagementID string        `json:"engagement_id"`
	Description  string        `json:"description,omitempty"`
	Date         time.Time     `json:"date"`
	Hours        float64       `json:"hours"`
	HourlyRate   billing.Cents `json:"hourly_rate_cents"`
	Approved     bool          `json:"approved"`
	ApprovedBy   *string       `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time    `json:"approved_at,omitempty"`
	Invoiced     bool          `json:"invoiced"`
	InvoiceID    *string       `json:"invoice_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Amount is the billable value of the entry.
func (e *Entry) Amount() billing.Cents {
	return e.HourlyRate.MulHours(e.Hours)
}
