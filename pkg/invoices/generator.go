package invoices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/billing"
	"github.com/mintfield/billcore/pkg/config"
	"github.com/mintfield/billcore/pkg/engagement"
	"github.com/mintfield/billcore/pkg/ledger"
	"github.com/mintfield/billcore/pkg/timeentry"
)

// generateConcurrency caps the engagement fan-out inside one batch run.
const generateConcurrency = 8

// defaultNetDays is the payment window applied to new invoices.
const defaultNetDays = 30

// Generator turns engagements and approved time entries into invoices.
type Generator struct {
	engagements engagement.Store
	invoices    Store
	entries     timeentry.Store
	credits     *ledger.Service
	policies    *config.PolicyResolver
	audit       audit.Logger
	log         *logrus.Logger

	// now is swapped in tests to pin the billing period.
	now func() time.Time
}

// NewGenerator wires the invoice generator. credits may be nil when no
// ledger is deployed; auto-application is then skipped regardless of policy.
func NewGenerator(engagements engagement.Store, invoices Store, entries timeentry.Store,
	credits *ledger.Service, policies *config.PolicyResolver, auditLogger audit.Logger,
	log *logrus.Logger) *Generator {
	if policies == nil {
		policies = config.NewPolicyResolver()
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Generator{
		engagements: engagements,
		invoices:    invoices,
		entries:     entries,
		credits:     credits,
		policies:    policies,
		audit:       auditLogger,
		log:         log,
		now:         time.Now,
	}
}

// BatchResult summarizes one package-invoice batch run.
type BatchResult struct {
	DryRun        bool `json:"dry_run"`
	Examined      int  `json:"examined"`
	Generated     int  `json:"generated"`
	Duplicates    int  `json:"duplicates"`
	Skipped       int  `json:"skipped"`
	Failed        int  `json:"failed"`
	WouldGenerate int  `json:"would_generate,omitempty"`
}

// GeneratePackageInvoices runs the recurring package batch. Each current
// engagement is handled independently; one bad engagement is skipped with an
// audit trail and never aborts the batch. firmID narrows the run to one firm
// when non-empty. With dryRun the batch reports what it would create and
// writes nothing.
func (g *Generator) GeneratePackageInvoices(ctx context.Context, firmID string, dryRun bool) (*BatchResult, error) {
	engs, err := g.engagements.ListCurrent(ctx, firmID)
	if err != nil {
		return nil, fmt.Errorf("failed to list current engagements: %w", err)
	}

	result := &BatchResult{DryRun: dryRun}
	var mu sync.Mutex

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(generateConcurrency)
	for _, e := range engs {
		e := e
		grp.Go(func() error {
			outcome := g.packageInvoiceFor(gctx, e, dryRun)
			mu.Lock()
			defer mu.Unlock()
			result.Examined++
			switch outcome {
			case outcomeGenerated:
				result.Generated++
			case outcomeWouldGenerate:
				result.WouldGenerate++
			case outcomeDuplicate:
				result.Duplicates++
			case outcomeSkipped:
				result.Skipped++
			case outcomeFailed:
				result.Failed++
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return result, err
	}

	g.log.WithFields(logrus.Fields{
		"firm_id":    firmID,
		"dry_run":    dryRun,
		"examined":   result.Examined,
		"generated":  result.Generated,
		"duplicates": result.Duplicates,
		"skipped":    result.Skipped,
		"failed":     result.Failed,
	}).Info("package invoice batch complete")
	return result, nil
}

type generateOutcome int

const (
	outcomeGenerated generateOutcome = iota
	outcomeWouldGenerate
	outcomeDuplicate
	outcomeSkipped
	outcomeFailed
)

func (g *Generator) packageInvoiceFor(ctx context.Context, e *engagement.Engagement, dryRun bool) generateOutcome {
	if !e.BillsPackage() {
		return outcomeSkipped
	}
	if err := engagement.Validate(e); err != nil {
		g.log.WithError(err).WithField("engagement_id", e.ID).Warn("skipping engagement with invalid pricing terms")
		audit.Emit(ctx, g.audit, e.FirmID, audit.ActionInvoiceSkipped, nil, audit.SeverityWarning, map[string]any{
			"engagement_id": e.ID,
			"reason":        err.Error(),
		})
		return outcomeSkipped
	}

	period, err := e.PackageCadence.PeriodFor(g.now().UTC(), e.StartDate, e.EndDate)
	if err != nil {
		g.log.WithError(err).WithField("engagement_id", e.ID).Warn("skipping engagement without a billing period")
		audit.Emit(ctx, g.audit, e.FirmID, audit.ActionInvoiceSkipped, nil, audit.SeverityWarning, map[string]any{
			"engagement_id": e.ID,
			"reason":        err.Error(),
		})
		return outcomeSkipped
	}

	if dryRun {
		exists, err := g.invoices.ExistsForPeriod(ctx, e.FirmID, e.ID, period.Start)
		if err != nil {
			g.log.WithError(err).WithField("engagement_id", e.ID).Error("dry-run period check failed")
			return outcomeFailed
		}
		if exists {
			return outcomeDuplicate
		}
		return outcomeWouldGenerate
	}

	policy := g.policies.ForFirm(e.FirmID)

	items := []billing.LineItem{packageLine(e, period)}

	// Under the combined policy a mixed engagement's approved unbilled
	// time rides on the package invoice. The entries are fetched up front
	// but only marked after the invoice row exists.
	var hourly []*timeentry.Entry
	if e.PricingMode == engagement.ModeMixed && policy.MixedInvoice == config.MixedCombined {
		hourly, err = g.entries.BillableEntries(ctx, e.FirmID, e.ID, period.End)
		if err != nil {
			g.log.WithError(err).WithField("engagement_id", e.ID).Error("failed to load billable entries")
			return outcomeFailed
		}
		items = append(items, hourlyLines(hourly)...)
	}

	inv := g.buildInvoice(e, items, policy)
	inv.PeriodStart = &period.Start
	inv.PeriodEnd = &period.End
	inv.Number = Number(e.ID, period.Key())

	created, err := g.invoices.CreateForPeriod(ctx, inv)
	if err != nil {
		g.log.WithError(err).WithField("engagement_id", e.ID).Error("failed to create package invoice")
		return outcomeFailed
	}
	if !created {
		audit.Emit(ctx, g.audit, e.FirmID, audit.ActionInvoiceDuplicate, nil, audit.SeverityInfo, map[string]any{
			"engagement_id": e.ID,
			"period_start":  period.Key(),
		})
		return outcomeDuplicate
	}

	if len(hourly) > 0 {
		if err := g.consumeEntries(ctx, e.FirmID, inv, hourly); err != nil {
			// The package portion is still owed. Strip the hourly
			// lines and let a later hourly run pick the entries up.
			g.log.WithError(err).WithFields(logrus.Fields{
				"engagement_id": e.ID,
				"invoice_id":    inv.ID,
			}).Warn("entry marking failed, downgrading to package-only invoice")
			if err := g.stripToPackageOnly(ctx, inv, e, period, policy); err != nil {
				g.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to downgrade combined invoice")
				return outcomeFailed
			}
		}
	}

	if err := g.issue(ctx, inv, policy); err != nil {
		g.log.WithError(err).WithField("invoice_id", inv.ID).Error("failed to issue invoice")
		return outcomeFailed
	}

	audit.Emit(ctx, g.audit, e.FirmID, audit.ActionInvoiceGenerated, nil, audit.SeverityInfo, map[string]any{
		"invoice_id":    inv.ID,
		"number":        inv.Number,
		"engagement_id": e.ID,
		"total_cents":   int64(inv.Total),
		"period_start":  period.Key(),
	})
	return outcomeGenerated
}

// GenerateHourlyInvoice bills the engagement's approved, unbilled time dated
// on or before asOf. Entry consumption and invoice creation succeed or fail
// together; a marking failure cancels the draft.
func (g *Generator) GenerateHourlyInvoice(ctx context.Context, firmID, engagementID string, asOf time.Time, dryRun bool) (*Invoice, error) {
	e, err := g.engagements.Get(ctx, firmID, engagementID)
	if err != nil {
		return nil, err
	}
	if !e.BillsHourly() {
		return nil, fmt.Errorf("%w: %s engagement cannot be billed hourly", ErrNotBillable, e.PricingMode)
	}
	if err := engagement.Validate(e); err != nil {
		return nil, err
	}

	entries, err := g.entries.BillableEntries(ctx, firmID, engagementID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load billable entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNoBillableEntries
	}

	policy := g.policies.ForFirm(firmID)
	inv := g.buildInvoice(e, hourlyLines(entries), policy)
	inv.Number = Number(e.ID, asOf.UTC().Format("2006-01-02"))

	if dryRun {
		return inv, nil
	}

	if err := g.invoices.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to create hourly invoice: %w", err)
	}
	if err := g.consumeEntries(ctx, firmID, inv, entries); err != nil {
		if cerr := g.invoices.CASStatus(ctx, firmID, inv.ID, []billing.InvoiceStatus{billing.InvoiceStatusDraft}, billing.InvoiceStatusCancelled); cerr != nil {
			g.log.WithError(cerr).WithField("invoice_id", inv.ID).Error("failed to cancel orphaned hourly invoice")
		}
		return nil, err
	}
	if err := g.issue(ctx, inv, policy); err != nil {
		return nil, err
	}

	audit.Emit(ctx, g.audit, firmID, audit.ActionInvoiceGenerated, nil, audit.SeverityInfo, map[string]any{
		"invoice_id":    inv.ID,
		"number":        inv.Number,
		"engagement_id": e.ID,
		"total_cents":   int64(inv.Total),
		"entries":       len(entries),
	})
	return g.invoices.Get(ctx, firmID, inv.ID)
}

func (g *Generator) buildInvoice(e *engagement.Engagement, items []billing.LineItem, policy config.FirmPolicy) *Invoice {
	subtotal := billing.Subtotal(items)
	tax := taxOn(subtotal, policy.TaxRateBps)
	issue := g.now().UTC()
	return &Invoice{
		ID:            uuid.NewString(),
		FirmID:        e.FirmID,
		ClientID:      e.ClientID,
		EngagementID:  e.ID,
		LineItems:     items,
		Subtotal:      subtotal,
		Tax:           tax,
		Total:         subtotal + tax,
		Status:        billing.InvoiceStatusDraft,
		IssueDate:     issue,
		DueDate:       issue.AddDate(0, 0, defaultNetDays),
		AutopayStatus: billing.AutopayIdle,
	}
}

// issue moves the draft to sent and applies available client credit when the
// firm policy asks for it.
func (g *Generator) issue(ctx context.Context, inv *Invoice, policy config.FirmPolicy) error {
	if err := g.invoices.CASStatus(ctx, inv.FirmID, inv.ID, []billing.InvoiceStatus{billing.InvoiceStatusDraft}, billing.InvoiceStatusSent); err != nil {
		return fmt.Errorf("failed to send invoice: %w", err)
	}
	inv.Status = billing.InvoiceStatusSent

	if !policy.AutoApplyCredit || g.credits == nil {
		return nil
	}

	available, err := g.credits.Available(ctx, inv.FirmID, inv.ClientID)
	if err != nil {
		// Credit application is best effort at issue time. The invoice
		// is already out; credit can still be applied by hand.
		g.log.WithError(err).WithField("invoice_id", inv.ID).Warn("failed to read credit balance")
		return nil
	}
	amount := inv.BalanceDue()
	if available < amount {
		amount = available
	}
	if amount <= 0 {
		return nil
	}

	applied, err := g.credits.ApplyCredit(ctx, inv.FirmID, inv.ClientID, inv.ID, amount, "system")
	if err != nil {
		g.log.WithError(err).WithField("invoice_id", inv.ID).Warn("failed to auto-apply credit")
		return nil
	}
	updated, err := g.invoices.AddCreditApplied(ctx, inv.FirmID, inv.ID, applied)
	if err != nil {
		return fmt.Errorf("failed to record applied credit: %w", err)
	}
	*inv = *updated

	if inv.Settled() {
		if err := g.invoices.CASStatus(ctx, inv.FirmID, inv.ID,
			[]billing.InvoiceStatus{billing.InvoiceStatusSent}, billing.InvoiceStatusPaid); err != nil {
			return fmt.Errorf("failed to settle invoice from credit: %w", err)
		}
		inv.Status = billing.InvoiceStatusPaid
	}
	return nil
}

func (g *Generator) consumeEntries(ctx context.Context, firmID string, inv *Invoice, entries []*timeentry.Entry) error {
	ids := make([]string, len(entries))
	for i, en := range entries {
		ids[i] = en.ID
	}
	if err := g.entries.MarkInvoiced(ctx, firmID, ids, inv.ID); err != nil {
		return fmt.Errorf("failed to mark entries invoiced: %w", err)
	}
	audit.Emit(ctx, g.audit, firmID, audit.ActionEntryInvoiced, nil, audit.SeverityInfo, map[string]any{
		"invoice_id": inv.ID,
		"entries":    len(ids),
	})
	return nil
}

func (g *Generator) stripToPackageOnly(ctx context.Context, inv *Invoice, e *engagement.Engagement, period billing.Period, policy config.FirmPolicy) error {
	items := []billing.LineItem{packageLine(e, period)}
	subtotal := billing.Subtotal(items)
	tax := taxOn(subtotal, policy.TaxRateBps)
	if err := g.invoices.ReplaceLineItems(ctx, inv.FirmID, inv.ID, items, subtotal, tax, subtotal+tax); err != nil {
		return err
	}
	inv.LineItems = items
	inv.Subtotal = subtotal
	inv.Tax = tax
	inv.Total = subtotal + tax
	return nil
}

func packageLine(e *engagement.Engagement, period billing.Period) billing.LineItem {
	return billing.LineItem{
		Type: billing.LineItemPackageFee,
		Description: fmt.Sprintf("%s package fee, %s to %s", e.PackageCadence,
			period.Start.Format("Jan 2, 2006"), period.End.Format("Jan 2, 2006")),
		Quantity: 1,
		Rate:     e.PackageFee,
		Amount:   e.PackageFee,
	}
}

// hourlyLines groups entries by rate, one line per rate, ordered by rate
// ascending so regenerated invoices are byte-stable.
func hourlyLines(entries []*timeentry.Entry) []billing.LineItem {
	type group struct {
		rate  billing.Cents
		hours float64
	}
	byRate := make(map[billing.Cents]*group)
	var rates []billing.Cents
	for _, e := range entries {
		gr, ok := byRate[e.HourlyRate]
		if !ok {
			gr = &group{rate: e.HourlyRate}
			byRate[e.HourlyRate] = gr
			rates = append(rates, e.HourlyRate)
		}
		gr.hours += e.Hours
	}
	for i := 1; i < len(rates); i++ {
		for j := i; j > 0 && rates[j] < rates[j-1]; j-- {
			rates[j], rates[j-1] = rates[j-1], rates[j]
		}
	}

	items := make([]billing.LineItem, 0, len(rates))
	for _, r := range rates {
		gr := byRate[r]
		items = append(items, billing.LineItem{
			Type:        billing.LineItemHourlyLabor,
			Description: fmt.Sprintf("Professional services, %.2f hrs @ %s/hr", gr.hours, gr.rate.Dollars()),
			Quantity:    gr.hours,
			Rate:        gr.rate,
			Amount:      gr.rate.MulHours(gr.hours),
		})
	}
	return items
}

// taxOn computes tax at a basis-point rate, rounding half up to the cent.
func taxOn(subtotal billing.Cents, bps int64) billing.Cents {
	if bps <= 0 || subtotal <= 0 {
		return 0
	}
	return billing.Cents((int64(subtotal)*bps + 5000) / 10000)
}
