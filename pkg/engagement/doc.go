// Package engagement manages priced service relationships between a firm
// and a client.
//
// # Overview
//
// An engagement defines how a client relationship is billed: a recurring
// package fee, hourly work, or both. Engagements are created at contract
// signature and are never mutated by invoicing; the only sanctioned mutation
// after creation is renewal, which completes the source engagement and
// creates a successor linked through ParentEngagementID.
//
// # Pricing invariants
//
// package and mixed modes require a positive package fee; hourly and mixed
// modes require a positive default hourly rate. Validate enforces this and
// the invoice generator skips (never fails the batch for) engagements that
// violate it.
package engagement
