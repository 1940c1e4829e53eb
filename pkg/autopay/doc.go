// Package autopay schedules and executes automatic charges for invoices
// whose clients enrolled with a stored payment method.
//
// Execution is safe to run concurrently across instances: each invoice is
// claimed with a conditional autopay-state update before any money moves,
// and every charge submission carries a deterministic idempotency key, so a
// crashed or duplicated run can never double-charge. Payments themselves are
// recorded only when the processor's charge.succeeded webhook lands; the
// executor owns the charge attempt, not the money.
package autopay
