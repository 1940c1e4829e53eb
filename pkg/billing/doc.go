// Package billing defines the shared vocabulary of the billing engine.
//
// # Overview
//
// This package holds the types every other billing package speaks in:
// integer-cent amounts, billing cadences and their period windows, typed
// invoice line items, and the three lifecycle state machines (invoice,
// autopay, dispute) with their exhaustive transition tables.
//
// # Money
//
// All amounts are integer cents (Cents). Floating point never touches a
// dollar value; display formatting is the caller's problem.
//
// # Lifecycles
//
// Each lifecycle exposes a single guarded transition check:
//
//	if !billing.InvoiceTransitions.Allowed(from, to) {
//		return billing.ErrInvalidTransition
//	}
//
// Invalid transitions are rejected in one place instead of by scattered
// status checks.
//
// # Related Packages
//
//   - pkg/invoices: invoice generation and storage
//   - pkg/autopay: scheduled charge execution
//   - pkg/reconcile: processor event reconciliation
package billing
