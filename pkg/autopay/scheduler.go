package autopay

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/billing"
	"github.com/mintfield/billcore/pkg/invoices"
)

// Scheduler enrolls individual invoices for automatic charging.
type Scheduler struct {
	invoices invoices.Store
	profiles ProfileStore
	audit    audit.Logger
	log      *logrus.Logger
}

// NewScheduler wires an autopay scheduler.
func NewScheduler(invoiceStore invoices.Store, profiles ProfileStore, auditLogger audit.Logger, log *logrus.Logger) *Scheduler {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Scheduler{invoices: invoiceStore, profiles: profiles, audit: auditLogger, log: log}
}

// ScheduleInvoice queues the invoice for an automatic charge on its due
// date. The client must be enrolled and the invoice must still owe money.
// Scheduling twice is a no-op.
func (s *Scheduler) ScheduleInvoice(ctx context.Context, firmID, invoiceID string) error {
	inv, err := s.invoices.Get(ctx, firmID, invoiceID)
	if err != nil {
		return err
	}
	if inv.BalanceDue() <= 0 {
		return fmt.Errorf("invoice %s owes nothing", invoiceID)
	}

	profile, err := s.profiles.Get(ctx, firmID, inv.ClientID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return ErrNotEnrolled
		}
		return err
	}
	if !profile.Enrolled() {
		return ErrNotEnrolled
	}

	err = s.invoices.CASAutopay(ctx, firmID, invoiceID, billing.AutopayIdle, billing.AutopayScheduled)
	if errors.Is(err, invoices.ErrStatusConflict) {
		// Already scheduled or in flight.
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.invoices.SetAutopaySchedule(ctx, firmID, invoiceID, billing.AutopayScheduled, &inv.DueDate, 0); err != nil {
		return err
	}

	audit.Emit(ctx, s.audit, firmID, audit.ActionAutopayScheduled, nil, audit.SeverityInfo, map[string]any{
		"invoice_id":     invoiceID,
		"next_charge_at": inv.DueDate,
		"amount":         inv.BalanceDue().Dollars(),
	})
	return nil
}
