// Package audit provides the audit sink for billing state transitions.
//
// # Overview
//
// Every state transition in invoice generation, autopay execution, credit
// ledger writes, and processor event reconciliation emits a structured audit
// event: which firm, what action, which actor (nil for batch jobs), free-form
// metadata, and a severity. Emission is fire-and-forget: a failing sink is
// logged and never fails the financial operation, but the emit call itself is
// never skipped, even on the happy path.
//
// # Severities
//
// Dispute and chargeback events are emitted at SeverityCritical so they reach
// a human in addition to the automatic state transition.
//
// # Implementations
//
//   - LogrusLogger: structured log lines (default)
//   - DBLogger: PostgreSQL audit_events table
//   - MultiLogger: fan-out to several sinks
//   - NopLogger: tests and wiring defaults
package audit
