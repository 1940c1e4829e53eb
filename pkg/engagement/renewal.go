package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/billing"
)

// Terms carries optional overrides applied to a renewed engagement. Nil
// fields inherit from the source engagement.
type Terms struct {
	PricingMode       *PricingMode
	PackageFee        *billing.Cents
	PackageCadence    *billing.Cadence
	DefaultHourlyRate *billing.Cents
	EndDate           *time.Time
}

// Renewer creates successor engagements at contract renewal. Renewal is
// additive only: invoices issued against the source engagement are never
// re-pointed, re-totaled, or deleted.
type Renewer struct {
	store Store
	audit audit.Logger
	log   *logrus.Logger
}

// NewRenewer creates a renewal continuity manager.
func NewRenewer(store Store, auditLogger audit.Logger, log *logrus.Logger) *Renewer {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Renewer{store: store, audit: auditLogger, log: log}
}

// Renew completes the source engagement and creates a successor whose window
// starts the day after the source's end date. The successor inherits the
// source terms unless overridden, must itself pass pricing validation, and
// links back through ParentEngagementID.
func (r *Renewer) Renew(ctx context.Context, firmID, engagementID string, overrides *Terms, actor string) (*Engagement, error) {
	source, err := r.store.Get(ctx, firmID, engagementID)
	if err != nil {
		return nil, fmt.Errorf("failed to load engagement for renewal: %w", err)
	}
	if source.Status != StatusCurrent {
		return nil, fmt.Errorf("engagement %s is %s, only current engagements renew", engagementID, source.Status)
	}
	if source.EndDate.IsZero() {
		return nil, fmt.Errorf("engagement %s has no end date to renew from", engagementID)
	}

	successor := &Engagement{
		ID:                 uuid.NewString(),
		FirmID:             source.FirmID,
		ClientID:           source.ClientID,
		PricingMode:        source.PricingMode,
		PackageFee:         source.PackageFee,
		PackageCadence:     source.PackageCadence,
		DefaultHourlyRate:  source.DefaultHourlyRate,
		StartDate:          source.EndDate.AddDate(0, 0, 1),
		EndDate:            source.EndDate.AddDate(1, 0, 0),
		Status:             StatusCurrent,
		ParentEngagementID: &source.ID,
	}
	applyOverrides(successor, overrides)

	if err := Validate(successor); err != nil {
		return nil, fmt.Errorf("renewal terms rejected: %w", err)
	}

	if err := r.store.SetStatus(ctx, firmID, source.ID, StatusCompleted); err != nil {
		return nil, fmt.Errorf("failed to complete source engagement: %w", err)
	}
	if err := r.store.Create(ctx, successor); err != nil {
		// Put the source back so a failed renewal leaves the world as it was.
		if rbErr := r.store.SetStatus(ctx, firmID, source.ID, StatusCurrent); rbErr != nil {
			r.log.WithError(rbErr).WithField("engagement_id", source.ID).
				Error("failed to restore engagement status after renewal failure")
		}
		return nil, fmt.Errorf("failed to create successor engagement: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"firm_id":       firmID,
		"engagement_id": source.ID,
		"successor_id":  successor.ID,
	}).Info("engagement renewed")

	audit.Emit(ctx, r.audit, firmID, audit.ActionEngagementRenewed, &actor, audit.SeverityInfo, map[string]any{
		"engagement_id": source.ID,
		"successor_id":  successor.ID,
		"start_date":    successor.StartDate.Format("2006-01-02"),
	})
	return successor, nil
}

func applyOverrides(e *Engagement, t *Terms) {
	if t == nil {
		return
	}
	if t.PricingMode != nil {
		e.PricingMode = *t.PricingMode
	}
	if t.PackageFee != nil {
		e.PackageFee = *t.PackageFee
	}
	if t.PackageCadence != nil {
		e.PackageCadence = *t.PackageCadence
	}
	if t.DefaultHourlyRate != nil {
		e.DefaultHourlyRate = *t.DefaultHourlyRate
	}
	if t.EndDate != nil {
		e.EndDate = *t.EndDate
	}
}
