package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is the full billing schema. Statements are idempotent so startup
// can run them unconditionally. The unique index on
// (engagement_id, period_start) is the exactly-once guarantee for recurring
// package invoices; everything else leans on it.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS engagements (
		id TEXT PRIMARY KEY,
		firm_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		pricing_mode TEXT NOT NULL,
		package_fee_cents BIGINT NOT NULL DEFAULT 0,
		package_cadence TEXT NOT NULL DEFAULT '',
		default_hourly_rate_cents BIGINT NOT NULL DEFAULT 0,
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'current',
		parent_engagement_id TEXT REFERENCES engagements(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_engagements_firm_status ON engagements(firm_id, status)`,

	`CREATE TABLE IF NOT EXISTS time_entries (
		id TEXT PRIMARY KEY,
		firm_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL REFERENCES engagements(id),
		description TEXT NOT NULL DEFAULT '',
		entry_date TIMESTAMPTZ NOT NULL,
		hours DOUBLE PRECISION NOT NULL,
		hourly_rate_cents BIGINT NOT NULL,
		approved BOOLEAN NOT NULL DEFAULT FALSE,
		approved_by TEXT,
		approved_at TIMESTAMPTZ,
		invoiced BOOLEAN NOT NULL DEFAULT FALSE,
		invoice_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_time_entries_billable
		ON time_entries(firm_id, engagement_id, entry_date)
		WHERE approved = TRUE AND invoiced = FALSE`,

	`CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		firm_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL REFERENCES engagements(id),
		period_start TIMESTAMPTZ,
		period_end TIMESTAMPTZ,
		line_items JSONB NOT NULL DEFAULT '[]',
		subtotal_cents BIGINT NOT NULL DEFAULT 0,
		tax_cents BIGINT NOT NULL DEFAULT 0,
		total_cents BIGINT NOT NULL DEFAULT 0,
		amount_paid_cents BIGINT NOT NULL DEFAULT 0,
		credit_applied_cents BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'draft',
		issue_date TIMESTAMPTZ NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		autopay_status TEXT NOT NULL DEFAULT 'idle',
		autopay_attempts INT NOT NULL DEFAULT 0,
		next_charge_at TIMESTAMPTZ,
		last_charge_id TEXT,
		failure_code TEXT,
		failure_message TEXT,
		failed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_engagement_period
		ON invoices(engagement_id, period_start)
		WHERE period_start IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_client ON invoices(firm_id, client_id)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_autopay_due
		ON invoices(next_charge_at)
		WHERE autopay_status = 'scheduled'`,

	`CREATE TABLE IF NOT EXISTS credit_ledger_entries (
		id TEXT PRIMARY KEY,
		firm_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		source TEXT NOT NULL,
		invoice_id TEXT,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_ledger_client
		ON credit_ledger_entries(firm_id, client_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS credit_applications (
		id TEXT PRIMARY KEY,
		firm_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		entry_id TEXT NOT NULL REFERENCES credit_ledger_entries(id),
		amount_cents BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_applications_invoice
		ON credit_applications(firm_id, invoice_id)`,

	`CREATE TABLE IF NOT EXISTS autopay_profiles (
		firm_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		payment_method_id TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (firm_id, client_id)
	)`,

	`CREATE TABLE IF NOT EXISTS disputes (
		id TEXT PRIMARY KEY,
		firm_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		charge_id TEXT NOT NULL,
		processor_dispute_id TEXT NOT NULL UNIQUE,
		amount_cents BIGINT NOT NULL,
		reason TEXT,
		status TEXT NOT NULL DEFAULT 'opened',
		resolution TEXT,
		opened_at TIMESTAMPTZ NOT NULL,
		respond_by TIMESTAMPTZ,
		closed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_disputes_open
		ON disputes(firm_id, opened_at)
		WHERE closed_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS capability_grants (
		firm_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		capability TEXT NOT NULL,
		granted_by TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (firm_id, actor, capability)
	)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		firm_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor TEXT,
		severity TEXT NOT NULL DEFAULT 'info',
		metadata JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_firm
		ON audit_events(firm_id, timestamp)`,
}

// EnsureSchema creates all billing tables and indexes if missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
