package engagement

import (
	"errors"
	"fmt"
	"time"

	"github.com/mintfield/billcore/pkg/billing"
)

// ErrInvalidPricingTerms is returned when an engagement's pricing mode and
// fee values contradict each other.
var ErrInvalidPricingTerms = errors.New("invalid pricing terms")

// ErrNotFound is returned when an engagement does not exist for the firm.
var ErrNotFound = errors.New("engagement not found")

// PricingMode represents how an engagement is billed.
type PricingMode string

const (
	ModePackage PricingMode = "package"
	ModeHourly  PricingMode = "hourly"
	ModeMixed   PricingMode = "mixed"
)

// Status represents the lifecycle state of an engagement. Superseded
// engagements are marked completed, never deleted.
type Status string

const (
	StatusCurrent   Status = "current"
	StatusCompleted Status = "completed"
	StatusOnHold    Status = "on_hold"
	StatusCancelled Status = "cancelled"
)

// Engagement is a priced service relationship between a firm and a client.
type Engagement struct {
	ID                 string              `json:"id"`
	FirmID             string              `json:"firm_id"`
	ClientID           string              `json:"client_id"`
	PricingMode        PricingMode         `json:"pricing_mode"`
	PackageFee         billing.Cents       `json:"package_fee_cents"`
	PackageCadence     billing.Cadence     `json:"package_cadence"`
	DefaultHourlyRate  billing.Cents       `json:"default_hourly_rate_cents"`
	StartDate          time.Time           `json:"start_date"`
	EndDate            time.Time           `json:"end_date"`
	Status             Status              `json:"status"`
	ParentEngagementID *string             `json:"parent_engagement_id,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// Validate checks the pricing-mode invariants. It is called before invoice
// generation; a violation rejects the engagement, not the batch.
func Validate(e *Engagement) error {
	switch e.PricingMode {
	case ModePackage, ModeHourly, ModeMixed:
	default:
		return fmt.Errorf("%w: unknown pricing mode %q", ErrInvalidPricingTerms, e.PricingMode)
	}

	if e.PricingMode == ModePackage || e.PricingMode == ModeMixed {
		if e.PackageFee <= 0 {
			return fmt.Errorf("%w: %s mode requires a package fee > 0", ErrInvalidPricingTerms, e.PricingMode)
		}
		if !e.PackageCadence.Valid() {
			return fmt.Errorf("%w: %s mode requires a billing cadence", ErrInvalidPricingTerms, e.PricingMode)
		}
	}
	if e.PricingMode == ModeHourly || e.PricingMode == ModeMixed {
		if e.DefaultHourlyRate <= 0 {
			return fmt.Errorf("%w: %s mode requires a default hourly rate > 0", ErrInvalidPricingTerms, e.PricingMode)
		}
	}
	if !e.EndDate.IsZero() && e.EndDate.Before(e.StartDate) {
		return fmt.Errorf("%w: end date precedes start date", ErrInvalidPricingTerms)
	}
	return nil
}

// BillsPackage reports whether the engagement carries a recurring package fee.
func (e *Engagement) BillsPackage() bool {
	return e.PricingMode == ModePackage || e.PricingMode == ModeMixed
}

// BillsHourly reports whether the engagement bills logged time.
func (e *Engagement) BillsHourly() bool {
	return e.PricingMode == ModeHourly || e.PricingMode == ModeMixed
}
