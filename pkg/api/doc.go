// Package api provides the HTTP surface of the billing engine.
//
// # Overview
//
// The server exposes firm-scoped resource endpoints for engagements, time
// entries, invoices, credits, autopay profiles, and disputes, plus batch
// trigger endpoints for invoice generation and recurring charges and a
// webhook endpoint for payment processor events.
//
// All routes are scoped by firm id in the path; no handler ever reads or
// writes another firm's rows.
//
// # Routes
//
// Resource endpoints:
//
//	POST   /v1/firms/{firm_id}/engagements
//	GET    /v1/firms/{firm_id}/engagements
//	GET    /v1/firms/{firm_id}/engagements/{id}
//	POST   /v1/firms/{firm_id}/engagements/{id}/renew
//	POST   /v1/firms/{firm_id}/engagements/{id}/invoice
//	POST   /v1/firms/{firm_id}/time-entries
//	POST   /v1/firms/{firm_id}/time-entries/{id}/approve
//	POST   /v1/firms/{firm_id}/time-entries/{id}/revoke
//	GET    /v1/firms/{firm_id}/invoices?client_id=
//	GET    /v1/firms/{firm_id}/invoices/{id}
//	POST   /v1/firms/{firm_id}/invoices/{id}/schedule-autopay
//	POST   /v1/firms/{firm_id}/invoices/{id}/refund
//	POST   /v1/firms/{firm_id}/credits
//	GET    /v1/firms/{firm_id}/clients/{client_id}/credit-balance
//	PUT    /v1/firms/{firm_id}/clients/{client_id}/autopay-profile
//	GET    /v1/firms/{firm_id}/clients/{client_id}/autopay-profile
//	GET    /v1/firms/{firm_id}/disputes
//
// Batch and integration endpoints:
//
//	POST   /v1/batch/package-invoices?firm_id=&dry_run=
//	POST   /v1/batch/recurring-charges?firm_id=&dry_run=&as_of=
//	POST   /v1/webhooks/processor
//
// Operational endpoints:
//
//	GET    /healthz
//	GET    /readyz
//	GET    /metrics
package api
