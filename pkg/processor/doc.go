// Package processor is the boundary to the external payment processor. It
// owns the outbound charge/refund client and the inbound webhook envelope:
// signature verification and event-id deduplication. Everything past this
// package trusts that an event is authentic and first-seen.
package processor
