package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/billing"
	"github.com/mintfield/billcore/pkg/invoices"
	"github.com/mintfield/billcore/pkg/ledger"
	"github.com/mintfield/billcore/pkg/processor"
)

// ErrNotRefundable is returned when a refund targets an invoice that is not
// paid or disputed, or exceeds what was paid.
var ErrNotRefundable = errors.New("invoice cannot be refunded")

// disputeResponseWindow is how long the firm has to contest a dispute when
// the processor's event does not say.
const disputeResponseWindow = 14 * 24 * time.Hour

// Service applies processor events and operator refunds to invoice state.
type Service struct {
	invoices  invoices.Store
	disputes  DisputeStore
	credits   *ledger.Service
	processor processor.Client
	dedup     processor.DedupStore
	audit     audit.Logger
	log       *logrus.Logger

	now func() time.Time
}

// NewService wires the reconciliation service. credits may be nil when no
// ledger is deployed; overpayments are then logged instead of credited.
func NewService(invoiceStore invoices.Store, disputes DisputeStore, credits *ledger.Service,
	client processor.Client, dedup processor.DedupStore, auditLogger audit.Logger,
	log *logrus.Logger) *Service {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		invoices:  invoiceStore,
		disputes:  disputes,
		credits:   credits,
		processor: client,
		dedup:     dedup,
		audit:     auditLogger,
		log:       log,
		now:       time.Now,
	}
}

// HandleEvent applies one verified processor event. Replayed event ids are
// acknowledged without side effects. Unknown event types are acknowledged
// and logged so the processor stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, e *processor.Event) error {
	first, err := s.dedup.FirstSeen(ctx, e.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event dedup: %w", err)
	}
	if !first {
		audit.Emit(ctx, s.audit, e.FirmID, audit.ActionEventDeduplicated, nil, audit.SeverityInfo, map[string]any{
			"event_id": e.EventID,
			"type":     string(e.Type),
		})
		return nil
	}

	var applyErr error
	switch e.Type {
	case processor.EventChargeSucceeded:
		applyErr = s.chargeSucceeded(ctx, e)
	case processor.EventChargeFailed:
		applyErr = s.chargeFailed(ctx, e)
	case processor.EventDisputeOpened:
		applyErr = s.disputeOpened(ctx, e)
	case processor.EventDisputeClosed:
		applyErr = s.disputeClosed(ctx, e)
	default:
		s.log.WithFields(logrus.Fields{
			"event_id": e.EventID,
			"type":     string(e.Type),
		}).Warn("ignoring unknown processor event type")
		return nil
	}

	if applyErr != nil {
		// Release the dedup claim so the processor's redelivery is not
		// mistaken for a replay of an applied event.
		if err := s.dedup.Forget(ctx, e.EventID); err != nil {
			s.log.WithError(err).WithField("event_id", e.EventID).
				Error("failed to release dedup claim for failed event")
		}
		return applyErr
	}
	return nil
}

func (s *Service) chargeSucceeded(ctx context.Context, e *processor.Event) error {
	inv, err := s.invoices.Get(ctx, e.FirmID, e.InvoiceID)
	if err != nil {
		return fmt.Errorf("failed to load invoice: %w", err)
	}
	if inv.LastChargeID != nil && *inv.LastChargeID == e.ChargeID {
		// The autopay executor booked this charge synchronously; the
		// webhook is confirmation, not new money.
		s.log.WithFields(logrus.Fields{
			"invoice_id": inv.ID,
			"charge_id":  e.ChargeID,
		}).Debug("charge already recorded on invoice")
		return nil
	}

	inv, err = s.invoices.AddPayment(ctx, e.FirmID, e.InvoiceID, e.Amount, e.ChargeID)
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}

	// Money beyond the balance becomes client credit rather than
	// vanishing into an over-paid invoice.
	overpaid := inv.AmountPaid + inv.CreditApplied - inv.Total
	if overpaid > 0 && s.credits != nil {
		if _, err := s.credits.AddCredit(ctx, inv.FirmID, inv.ClientID, overpaid,
			ledger.SourceOverpayment, &inv.ID, "system"); err != nil {
			s.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to credit overpayment")
		}
	}

	if inv.BalanceDue() == 0 {
		err = s.invoices.CASStatus(ctx, inv.FirmID, inv.ID,
			[]billing.InvoiceStatus{billing.InvoiceStatusSent, billing.InvoiceStatusPartial,
				billing.InvoiceStatusOverdue, billing.InvoiceStatusFailed},
			billing.InvoiceStatusPaid)
	} else {
		err = s.invoices.CASStatus(ctx, inv.FirmID, inv.ID,
			[]billing.InvoiceStatus{billing.InvoiceStatusSent, billing.InvoiceStatusOverdue,
				billing.InvoiceStatusFailed},
			billing.InvoiceStatusPartial)
	}
	if err != nil && !errors.Is(err, invoices.ErrStatusConflict) {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}

	audit.Emit(ctx, s.audit, inv.FirmID, audit.ActionPaymentSucceeded, nil, audit.SeverityInfo, map[string]any{
		"invoice_id": inv.ID,
		"charge_id":  e.ChargeID,
		"amount":     e.Amount.Dollars(),
	})
	return nil
}

func (s *Service) chargeFailed(ctx context.Context, e *processor.Event) error {
	code := e.FailureCode
	if code == "" {
		code = "charge_failed"
	}
	if err := s.invoices.RecordFailure(ctx, e.FirmID, e.InvoiceID, code, e.Message); err != nil {
		return fmt.Errorf("failed to record charge failure: %w", err)
	}
	// An overdue invoice is already escalated; a late failure event must
	// not walk it back to the per-charge failed marker.
	err := s.invoices.CASStatus(ctx, e.FirmID, e.InvoiceID,
		[]billing.InvoiceStatus{billing.InvoiceStatusSent, billing.InvoiceStatusPartial},
		billing.InvoiceStatusFailed)
	if err != nil && !errors.Is(err, invoices.ErrStatusConflict) {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}

	audit.Emit(ctx, s.audit, e.FirmID, audit.ActionPaymentFailed, nil, audit.SeverityWarning, map[string]any{
		"invoice_id":   e.InvoiceID,
		"charge_id":    e.ChargeID,
		"failure_code": code,
	})
	return nil
}

func (s *Service) disputeOpened(ctx context.Context, e *processor.Event) error {
	// Redeliveries with fresh event ids still carry the same processor
	// dispute id.
	if _, err := s.disputes.GetByProcessorID(ctx, e.FirmID, e.DisputeID); err == nil {
		return nil
	}

	respondBy := s.now().UTC().Add(disputeResponseWindow)
	d := &Dispute{
		ID:                 uuid.NewString(),
		FirmID:             e.FirmID,
		InvoiceID:          e.InvoiceID,
		ChargeID:           e.ChargeID,
		ProcessorDisputeID: e.DisputeID,
		Amount:             e.Amount,
		Reason:             e.Reason,
		Status:             billing.DisputeOpened,
		OpenedAt:           s.now().UTC(),
		RespondBy:          &respondBy,
	}
	if err := s.disputes.Create(ctx, d); err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}

	err := s.invoices.CASStatus(ctx, e.FirmID, e.InvoiceID,
		[]billing.InvoiceStatus{billing.InvoiceStatusSent, billing.InvoiceStatusPartial,
			billing.InvoiceStatusPaid, billing.InvoiceStatusOverdue, billing.InvoiceStatusFailed},
		billing.InvoiceStatusDisputed)
	if err != nil && !errors.Is(err, invoices.ErrStatusConflict) {
		return fmt.Errorf("failed to mark invoice disputed: %w", err)
	}

	// Money is on its way out of the firm's control. A human must see
	// this regardless of what the state machine does next.
	audit.Emit(ctx, s.audit, e.FirmID, audit.ActionDisputeOpened, nil, audit.SeverityCritical, map[string]any{
		"dispute_id": d.ID,
		"invoice_id": e.InvoiceID,
		"charge_id":  e.ChargeID,
		"amount":     e.Amount.Dollars(),
		"reason":     e.Reason,
		"respond_by": respondBy,
	})
	return nil
}

func (s *Service) disputeClosed(ctx context.Context, e *processor.Event) error {
	d, err := s.disputes.GetByProcessorID(ctx, e.FirmID, e.DisputeID)
	if err != nil {
		return fmt.Errorf("closure for unknown dispute %s: %w", e.DisputeID, err)
	}
	if d.ClosedAt != nil {
		return nil
	}

	var status billing.DisputeStatus
	switch e.Outcome {
	case "won":
		status = billing.DisputeWon
	case "lost":
		status = billing.DisputeLost
	default:
		status = billing.DisputeClosed
	}
	if !billing.DisputeTransitions.Allowed(d.Status, status) {
		return fmt.Errorf("dispute %s cannot move from %s to %s: %w",
			d.ID, d.Status, status, billing.ErrInvalidTransition)
	}
	if err := s.disputes.Close(ctx, e.FirmID, d.ID, status, e.Outcome, s.now().UTC()); err != nil {
		if errors.Is(err, ErrDisputeNotFound) {
			return nil
		}
		return fmt.Errorf("failed to close dispute: %w", err)
	}

	if status == billing.DisputeLost {
		// The bank pulled the money back; un-count the disputed amount.
		if _, err := s.invoices.AddPayment(ctx, e.FirmID, d.InvoiceID, -d.Amount, ""); err != nil {
			return fmt.Errorf("failed to reverse disputed payment: %w", err)
		}
		err = s.invoices.CASStatus(ctx, e.FirmID, d.InvoiceID,
			[]billing.InvoiceStatus{billing.InvoiceStatusDisputed}, billing.InvoiceStatusChargedBack)
	} else {
		err = s.invoices.CASStatus(ctx, e.FirmID, d.InvoiceID,
			[]billing.InvoiceStatus{billing.InvoiceStatusDisputed}, billing.InvoiceStatusPaid)
	}
	if err != nil && !errors.Is(err, invoices.ErrStatusConflict) {
		return fmt.Errorf("failed to update invoice after dispute: %w", err)
	}

	audit.Emit(ctx, s.audit, e.FirmID, audit.ActionDisputeClosed, nil, audit.SeverityCritical, map[string]any{
		"dispute_id": d.ID,
		"invoice_id": d.InvoiceID,
		"outcome":    string(status),
		"amount":     d.Amount.Dollars(),
	})
	return nil
}

// Refund returns money for a paid or disputed invoice through the processor,
// zeroes the amount paid, and optionally books the refund into the client's
// credit ledger.
func (s *Service) Refund(ctx context.Context, firmID, invoiceID string, amount billing.Cents, reason string, asCredit bool, actor string) error {
	inv, err := s.invoices.Get(ctx, firmID, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != billing.InvoiceStatusPaid && inv.Status != billing.InvoiceStatusDisputed {
		return fmt.Errorf("%w: status is %s", ErrNotRefundable, inv.Status)
	}
	if amount <= 0 || amount > inv.AmountPaid {
		return fmt.Errorf("%w: %s paid, %s requested", ErrNotRefundable, inv.AmountPaid.Dollars(), amount.Dollars())
	}
	if inv.LastChargeID == nil {
		return fmt.Errorf("%w: no charge on record", ErrNotRefundable)
	}

	result, err := s.processor.CreateRefund(ctx, &processor.RefundRequest{
		ChargeID: *inv.LastChargeID,
		Amount:   amount,
		Reason:   reason,
	})
	if err != nil {
		return fmt.Errorf("failed to issue refund: %w", err)
	}

	if _, err := s.invoices.AddPayment(ctx, firmID, invoiceID, -inv.AmountPaid, ""); err != nil {
		return fmt.Errorf("failed to zero paid amount: %w", err)
	}
	if err := s.invoices.CASStatus(ctx, firmID, invoiceID,
		[]billing.InvoiceStatus{billing.InvoiceStatusPaid, billing.InvoiceStatusDisputed},
		billing.InvoiceStatusRefunded); err != nil && !errors.Is(err, invoices.ErrStatusConflict) {
		return fmt.Errorf("failed to mark invoice refunded: %w", err)
	}

	if asCredit && s.credits != nil {
		if _, err := s.credits.AddCredit(ctx, firmID, inv.ClientID, amount,
			ledger.SourceRefund, &invoiceID, actor); err != nil {
			s.log.WithError(err).WithField("invoice_id", invoiceID).Error("failed to book refund credit")
		}
	}

	audit.Emit(ctx, s.audit, firmID, audit.ActionRefundIssued, &actor, audit.SeverityWarning, map[string]any{
		"invoice_id": invoiceID,
		"refund_id":  result.RefundID,
		"amount":     amount.Dollars(),
		"reason":     reason,
		"as_credit":  asCredit,
	})
	return nil
}
