package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/billing"
)

// Service exposes the ledger operations the rest of the billing engine uses.
type Service struct {
	store Store
	caps  CapabilityChecker
	audit audit.Logger
	log   *logrus.Logger
}

// NewService creates a ledger service.
func NewService(store Store, caps CapabilityChecker, auditLogger audit.Logger, log *logrus.Logger) *Service {
	if caps == nil {
		caps = AllowAll{}
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Service{store: store, caps: caps, audit: auditLogger, log: log}
}

// AddCredit appends a credit entry. goodwill and correction sources require
// the elevated capability; the check is delegated to the external permission
// collaborator.
func (s *Service) AddCredit(ctx context.Context, firmID, clientID string, amount billing.Cents, source Source, invoiceID *string, actor string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if source.RequiresElevation() && !s.caps.HasCapability(ctx, firmID, actor, CapabilityAdjustCredit) {
		return nil, fmt.Errorf("%s credit by %s: %w", source, actor, ErrApprovalRequired)
	}

	entry := &Entry{
		ID:        uuid.NewString(),
		FirmID:    firmID,
		ClientID:  clientID,
		Type:      EntryCredit,
		Amount:    amount,
		Source:    source,
		InvoiceID: invoiceID,
		CreatedBy: actor,
	}
	if err := s.store.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append credit entry: %w", err)
	}

	audit.Emit(ctx, s.audit, firmID, audit.ActionCreditAdded, &actor, audit.SeverityInfo, map[string]any{
		"client_id": clientID,
		"amount":    amount.Dollars(),
		"source":    string(source),
	})
	return entry, nil
}

// ApplyCredit consumes up to amount of the client's available credit against
// an invoice. It appends one debit entry plus an application record per
// funding credit (oldest first) in a single atomic store write, and returns
// the amount actually applied.
func (s *Service) ApplyCredit(ctx context.Context, firmID, clientID, invoiceID string, amount billing.Cents, actor string) (billing.Cents, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, err := s.store.Balance(ctx, firmID, clientID)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	if balance < amount {
		return 0, fmt.Errorf("have %s, need %s: %w", balance.Dollars(), amount.Dollars(), ErrInsufficientCredit)
	}

	apps, err := s.fundingPlan(ctx, firmID, clientID, invoiceID, amount)
	if err != nil {
		return 0, err
	}

	debit := &Entry{
		ID:        uuid.NewString(),
		FirmID:    firmID,
		ClientID:  clientID,
		Type:      EntryDebit,
		Amount:    amount,
		Source:    SourceApplication,
		InvoiceID: &invoiceID,
		CreatedBy: actor,
	}
	if err := s.store.AppendApplications(ctx, debit, apps); err != nil {
		return 0, fmt.Errorf("failed to apply credit: %w", err)
	}

	audit.Emit(ctx, s.audit, firmID, audit.ActionCreditApplied, &actor, audit.SeverityInfo, map[string]any{
		"client_id":  clientID,
		"invoice_id": invoiceID,
		"amount":     amount.Dollars(),
		"fundings":   len(apps),
	})
	return amount, nil
}

// fundingPlan walks the client's credit entries oldest first and allocates
// the requested amount across their unconsumed remainders.
func (s *Service) fundingPlan(ctx context.Context, firmID, clientID, invoiceID string, amount billing.Cents) ([]*Application, error) {
	entries, err := s.store.Entries(ctx, firmID, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	var apps []*Application
	remaining := amount
	for _, e := range entries {
		if remaining == 0 {
			break
		}
		if e.Type != EntryCredit {
			continue
		}
		consumed, err := s.store.AppliedFromEntry(ctx, firmID, e.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read entry consumption: %w", err)
		}
		available := e.Amount - consumed
		if available <= 0 {
			continue
		}
		take := available
		if take > remaining {
			take = remaining
		}
		apps = append(apps, &Application{
			ID:        uuid.NewString(),
			FirmID:    firmID,
			ClientID:  clientID,
			InvoiceID: invoiceID,
			EntryID:   e.ID,
			Amount:    take,
		})
		remaining -= take
	}
	if remaining > 0 {
		// Balance said yes but per-entry consumption says no; the ledger
		// and application records have diverged, which must never happen.
		return nil, fmt.Errorf("application records diverge from ledger balance: %w", ErrInsufficientCredit)
	}
	return apps, nil
}

// Balance returns the client's current credit balance.
func (s *Service) Balance(ctx context.Context, firmID, clientID string) (billing.Cents, error) {
	return s.store.Balance(ctx, firmID, clientID)
}

// Available returns the balance available for application to an invoice.
// It equals Balance; the split exists so callers express intent.
func (s *Service) Available(ctx context.Context, firmID, clientID string) (billing.Cents, error) {
	return s.store.Balance(ctx, firmID, clientID)
}
