// Package ledger maintains the append-only credit ledger for clients.
//
// # Overview
//
// Every balance adjustment for a client is an immutable ledger entry: a
// credit (overpayment, refund, goodwill, promo, correction) or a debit
// consuming credit against an invoice. Entries are never updated or deleted;
// a client's balance is always the signed sum of their entries, which makes
// concurrent writers inherently safe without locks.
//
// # Applications
//
// Applying credit to an invoice appends a debit entry and one application
// record per funding credit entry. The sum of application records always
// reconciles with the debit side of the ledger.
//
// # Elevated sources
//
// goodwill and correction credits require an elevated capability, checked
// through the external permission collaborator (CapabilityChecker); the
// ledger itself rejects unauthorized writes with ErrApprovalRequired.
package ledger
