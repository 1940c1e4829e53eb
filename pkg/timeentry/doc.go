// Package timeentry tracks logged work and gates which of it is billable.
//
// # Overview
//
// A time entry is created when work is logged, mutated once by approval and
// once by invoicing, and never deleted once invoiced. The approval gate is
// the only sanctioned input path for hourly billing: the invoice generator
// consumes BillableEntries (approved and not yet invoiced, ordered by date)
// and nothing else.
//
// # Invariants
//
// invoiced implies approved, permanently. Revoking approval after invoicing
// is an integrity violation and is rejected hard (ErrImmutableAfterInvoicing)
// rather than silently corrected, since it would corrupt financial history.
package timeentry
