// Package reconcile applies asynchronous payment processor events to
// invoices: payments, failures, disputes, and chargebacks. It is the only
// writer of payment amounts, so a charge counts exactly once no matter how
// many times the processor redelivers its event.
package reconcile
