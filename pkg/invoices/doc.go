// Package invoices holds the invoice model, its persistence interfaces, and
// the generator that turns engagements and approved time entries into
// invoices.
//
// The generator is the only writer of new invoices. Duplicate protection for
// recurring package invoices is a storage-level uniqueness guarantee on
// (engagement, period start), not an application-level check, so concurrent
// batch runs converge on exactly one invoice per period.
package invoices
