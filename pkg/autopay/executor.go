package autopay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/billing"
	"github.com/mintfield/billcore/pkg/invoices"
	"github.com/mintfield/billcore/pkg/processor"
)

// maxRetries caps automatic retries after a declined charge. Once the
// initial attempt and every retry have failed, the invoice goes overdue and
// a human takes over.
const maxRetries = 3

// retryDelays is the backoff ladder after a declined attempt, indexed by the
// number of failures so far.
var retryDelays = [maxRetries]time.Duration{
	3 * 24 * time.Hour,
	7 * 24 * time.Hour,
	14 * 24 * time.Hour,
}

// outageRetryDelay reschedules a charge that never reached the processor.
// The attempt is not consumed; the idempotency key makes the resend safe.
const outageRetryDelay = time.Hour

// executeBatchSize bounds one run's claim so a huge backlog drains across
// runs instead of holding one run open for hours.
const executeBatchSize = 500

// Executor runs due automatic charges.
type Executor struct {
	invoices  invoices.Store
	profiles  ProfileStore
	processor processor.Client
	audit     audit.Logger
	log       *logrus.Logger

	now func() time.Time
}

// NewExecutor wires an autopay executor.
func NewExecutor(invoiceStore invoices.Store, profiles ProfileStore, client processor.Client,
	auditLogger audit.Logger, log *logrus.Logger) *Executor {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Executor{
		invoices:  invoiceStore,
		profiles:  profiles,
		processor: client,
		audit:     auditLogger,
		log:       log,
		now:       time.Now,
	}
}

// RunResult summarizes one autopay run.
type RunResult struct {
	DryRun      bool `json:"dry_run"`
	Examined    int  `json:"examined"`
	Charged     int  `json:"charged"`
	Rescheduled int  `json:"rescheduled"`
	Exhausted   int  `json:"exhausted"`
	Skipped     int  `json:"skipped"`
	WouldCharge int  `json:"would_charge,omitempty"`
}

// ExecuteDue charges every invoice whose autopay is scheduled at or before
// asOf. Each invoice is claimed via a conditional state move before
// charging, so concurrent runs split the batch instead of double-charging
// it. With dryRun the run reports what it would charge and touches nothing.
func (e *Executor) ExecuteDue(ctx context.Context, firmID string, asOf time.Time, dryRun bool) (*RunResult, error) {
	due, err := e.invoices.ListDueAutopay(ctx, firmID, asOf, executeBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list due invoices: %w", err)
	}

	result := &RunResult{DryRun: dryRun, Examined: len(due)}
	if dryRun {
		result.WouldCharge = len(due)
		return result, nil
	}

	for _, inv := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		switch e.chargeOne(ctx, inv) {
		case chargeSucceeded:
			result.Charged++
		case chargeRescheduled:
			result.Rescheduled++
		case chargeExhausted:
			result.Exhausted++
		case chargeSkipped:
			result.Skipped++
		}
	}

	e.log.WithFields(logrus.Fields{
		"firm_id":     firmID,
		"examined":    result.Examined,
		"charged":     result.Charged,
		"rescheduled": result.Rescheduled,
		"exhausted":   result.Exhausted,
		"skipped":     result.Skipped,
	}).Info("autopay run complete")
	return result, nil
}

type chargeOutcome int

const (
	chargeSucceeded chargeOutcome = iota
	chargeRescheduled
	chargeExhausted
	chargeSkipped
)

func (e *Executor) chargeOne(ctx context.Context, inv *invoices.Invoice) chargeOutcome {
	// Claim the invoice. Losing the claim means another run has it.
	err := e.invoices.CASAutopay(ctx, inv.FirmID, inv.ID, billing.AutopayScheduled, billing.AutopayProcessing)
	if errors.Is(err, invoices.ErrStatusConflict) {
		return chargeSkipped
	}
	if err != nil {
		e.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to claim invoice")
		return chargeSkipped
	}

	// Re-read after the claim; a payment or credit may have landed since
	// the listing.
	inv, err = e.invoices.Get(ctx, inv.FirmID, inv.ID)
	if err != nil {
		e.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to reload claimed invoice")
		return chargeSkipped
	}
	if inv.BalanceDue() <= 0 {
		if err := e.invoices.CASAutopay(ctx, inv.FirmID, inv.ID, billing.AutopayProcessing, billing.AutopaySucceeded); err != nil {
			e.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to settle claimed invoice")
		}
		return chargeSkipped
	}

	profile, err := e.profiles.Get(ctx, inv.FirmID, inv.ClientID)
	if err != nil || !profile.Enrolled() {
		// Enrollment was revoked after scheduling. Park the invoice
		// back to idle so it never charges.
		if serr := e.invoices.SetAutopaySchedule(ctx, inv.FirmID, inv.ID, billing.AutopayIdle, nil, inv.AutopayAttempts); serr != nil {
			e.log.WithError(serr).WithField("invoice_id", inv.ID).Error("failed to park unenrolled invoice")
		}
		return chargeSkipped
	}

	attempt := inv.AutopayAttempts + 1
	charge, err := e.processor.CreateCharge(ctx, &processor.ChargeRequest{
		IdempotencyKey:  fmt.Sprintf("chg-%s-%d", inv.ID, attempt),
		Amount:          inv.BalanceDue(),
		Currency:        "usd",
		PaymentMethodID: profile.PaymentMethodID,
		InvoiceID:       inv.ID,
		Description:     "Automatic payment for invoice " + inv.Number,
	})

	switch {
	case err == nil:
		return e.recordSuccess(ctx, inv, charge, attempt)

	case errors.Is(err, processor.ErrProcessorUnavailable):
		// The charge may or may not exist on the processor side. The
		// idempotency key makes the resend harmless, so retry soon
		// without consuming an attempt.
		next := e.now().UTC().Add(outageRetryDelay)
		if serr := e.invoices.SetAutopaySchedule(ctx, inv.FirmID, inv.ID, billing.AutopayScheduled, &next, inv.AutopayAttempts); serr != nil {
			e.log.WithError(serr).WithField("invoice_id", inv.ID).Error("failed to reschedule after outage")
		}
		e.log.WithError(err).WithField("invoice_id", inv.ID).Warn("processor unavailable, charge rescheduled")
		return chargeRescheduled

	default:
		return e.handleDecline(ctx, inv, charge, attempt)
	}
}

// recordSuccess books the charge on the invoice immediately. The processor's
// charge.succeeded webhook recognizes the charge id and applies nothing twice;
// waiting for the webhook would leave the invoice showing a balance due if
// delivery never arrives.
func (e *Executor) recordSuccess(ctx context.Context, inv *invoices.Invoice, charge *processor.ChargeResult, attempt int) chargeOutcome {
	amount := inv.BalanceDue()
	updated, err := e.invoices.AddPayment(ctx, inv.FirmID, inv.ID, amount, charge.ChargeID)
	if err != nil {
		// The webhook path will record the money instead; the charge id
		// is not on the invoice yet, so it will not be skipped.
		e.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to record autopay payment")
	} else {
		target := billing.InvoiceStatusPaid
		if updated.BalanceDue() > 0 {
			target = billing.InvoiceStatusPartial
		}
		if serr := e.invoices.CASStatus(ctx, inv.FirmID, inv.ID,
			[]billing.InvoiceStatus{billing.InvoiceStatusSent, billing.InvoiceStatusPartial,
				billing.InvoiceStatusOverdue, billing.InvoiceStatusFailed},
			target); serr != nil && !errors.Is(serr, invoices.ErrStatusConflict) {
			e.log.WithError(serr).WithField("invoice_id", inv.ID).Error("failed to mark invoice paid")
		}
	}

	if err := e.invoices.SetAutopaySchedule(ctx, inv.FirmID, inv.ID, billing.AutopaySucceeded, nil, attempt); err != nil {
		e.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to record autopay success")
	}
	audit.Emit(ctx, e.audit, inv.FirmID, audit.ActionAutopayCharged, nil, audit.SeverityInfo, map[string]any{
		"invoice_id": inv.ID,
		"charge_id":  charge.ChargeID,
		"attempt":    attempt,
		"amount":     amount.Dollars(),
	})
	return chargeSucceeded
}

func (e *Executor) handleDecline(ctx context.Context, inv *invoices.Invoice, charge *processor.ChargeResult, attempt int) chargeOutcome {
	code, message := "charge_failed", "charge declined"
	if charge != nil {
		if charge.DeclineCode != "" {
			code = charge.DeclineCode
		}
		if charge.Message != "" {
			message = charge.Message
		}
	}
	if err := e.invoices.RecordFailure(ctx, inv.FirmID, inv.ID, code, message); err != nil {
		e.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to record decline")
	}
	audit.Emit(ctx, e.audit, inv.FirmID, audit.ActionAutopayFailed, nil, audit.SeverityWarning, map[string]any{
		"invoice_id":   inv.ID,
		"attempt":      attempt,
		"decline_code": code,
	})
	// An overdue invoice stays overdue; the escalation outranks the
	// per-charge failed marker.
	if err := e.invoices.CASStatus(ctx, inv.FirmID, inv.ID,
		[]billing.InvoiceStatus{billing.InvoiceStatusSent, billing.InvoiceStatusPartial},
		billing.InvoiceStatusFailed); err != nil && !errors.Is(err, invoices.ErrStatusConflict) {
		e.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to mark invoice failed")
	}

	if attempt > maxRetries {
		if err := e.invoices.SetAutopaySchedule(ctx, inv.FirmID, inv.ID, billing.AutopayFailed, nil, attempt); err != nil {
			e.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to record exhausted autopay")
		}
		if err := e.invoices.CASStatus(ctx, inv.FirmID, inv.ID,
			[]billing.InvoiceStatus{billing.InvoiceStatusSent, billing.InvoiceStatusPartial, billing.InvoiceStatusFailed},
			billing.InvoiceStatusOverdue); err != nil && !errors.Is(err, invoices.ErrStatusConflict) {
			e.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to mark invoice overdue")
		}
		audit.Emit(ctx, e.audit, inv.FirmID, audit.ActionAutopayExhausted, nil, audit.SeverityCritical, map[string]any{
			"invoice_id":   inv.ID,
			"attempts":     attempt,
			"decline_code": code,
		})
		return chargeExhausted
	}

	next := e.now().UTC().Add(retryDelays[attempt-1])
	if err := e.invoices.SetAutopaySchedule(ctx, inv.FirmID, inv.ID, billing.AutopayScheduled, &next, attempt); err != nil {
		e.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to schedule retry")
	}
	audit.Emit(ctx, e.audit, inv.FirmID, audit.ActionAutopayRetry, nil, audit.SeverityWarning, map[string]any{
		"invoice_id":   inv.ID,
		"attempt":      attempt,
		"next_charge":  next,
		"decline_code": code,
	})
	return chargeRescheduled
}
