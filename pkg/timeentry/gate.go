package timeentry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mintfield/billcore/pkg/audit"
)

// Gate decides which logged work units are eligible for billing.
type Gate struct {
	store Store
	audit audit.Logger
	log   *logrus.Logger
}

// NewGate creates an approval gate over a store.
func NewGate(store Store, auditLogger audit.Logger, log *logrus.Logger) *Gate {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Gate{store: store, audit: auditLogger, log: log}
}

// Approve marks an entry billable. Approving an already-approved or
// already-invoiced entry is an idempotent no-op: invoiced implies approved,
// so there is nothing to change and nothing to reject.
func (g *Gate) Approve(ctx context.Context, firmID, entryID, actor string) error {
	entry, err := g.store.Get(ctx, firmID, entryID)
	if err != nil {
		return fmt.Errorf("failed to load time entry: %w", err)
	}
	if entry.Invoiced || entry.Approved {
		return nil
	}

	now := time.Now().UTC()
	if err := g.store.SetApproval(ctx, firmID, entryID, true, &actor, &now); err != nil {
		return fmt.Errorf("failed to approve time entry: %w", err)
	}

	audit.Emit(ctx, g.audit, firmID, audit.ActionEntryApproved, &actor, audit.SeverityInfo, map[string]any{
		"entry_id": entryID,
		"hours":    entry.Hours,
	})
	return nil
}

// Revoke withdraws approval from an entry that has not been invoiced yet.
// Once an entry is invoiced its approval is permanent.
func (g *Gate) Revoke(ctx context.Context, firmID, entryID string) error {
	entry, err := g.store.Get(ctx, firmID, entryID)
	if err != nil {
		return fmt.Errorf("failed to load time entry: %w", err)
	}
	if entry.Invoiced {
		return fmt.Errorf("entry %s: %w", entryID, ErrImmutableAfterInvoicing)
	}
	if !entry.Approved {
		return nil
	}

	if err := g.store.SetApproval(ctx, firmID, entryID, false, nil, nil); err != nil {
		return fmt.Errorf("failed to revoke approval: %w", err)
	}
	return nil
}

// BillableEntries returns the entries eligible for hourly invoicing: approved,
// not yet invoiced, dated on or before asOf, ordered by date. This is the
// only sanctioned input path from logged work into an invoice.
func (g *Gate) BillableEntries(ctx context.Context, firmID, engagementID string, asOf time.Time) ([]*Entry, error) {
	entries, err := g.store.BillableEntries(ctx, firmID, engagementID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query billable entries: %w", err)
	}
	return entries, nil
}
