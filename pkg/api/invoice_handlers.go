package api

import (
	"net/http"
	"time"

	"github.com/mintfield/billcore/pkg/billing"
	"github.com/mintfield/billcore/pkg/httputil"
)

func (s *Server) listInvoices(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}
	clientID := httputil.ParseQueryString(r, "client_id", "")
	if !httputil.RequireNonEmpty(w, clientID, "client_id") {
		return
	}

	list, err := s.deps.Invoices.ListByClient(r.Context(), firmID, clientID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"invoices": list})
}

func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	inv, err := s.deps.Invoices.Get(r.Context(), firmID, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, inv)
}

// generateHourlyInvoice sweeps the engagement's billable time entries into
// an invoice on demand.
func (s *Server) generateHourlyInvoice(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	dryRun, err := httputil.ParseQueryBool(r, "dry_run", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	asOf, err := httputil.ParseQueryTime(r, "as_of", time.Now().UTC())
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	inv, err := s.deps.Generator.GenerateHourlyInvoice(r.Context(), firmID, id, asOf, dryRun)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if dryRun {
		httputil.WriteSuccess(w, inv)
		return
	}
	s.metrics.InvoicesGeneratedTotal.WithLabelValues("hourly").Inc()
	httputil.WriteCreated(w, inv)
}

func (s *Server) scheduleAutopay(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.deps.Scheduler.ScheduleInvoice(r.Context(), firmID, id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "scheduled"})
}

type refundRequest struct {
	Amount   billing.Cents `json:"amount_cents"`
	Reason   string        `json:"reason"`
	AsCredit bool          `json:"as_credit"`
}

func (s *Server) refundInvoice(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req refundRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, int64(req.Amount), "amount_cents") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Reason, "reason") {
		return
	}

	err := s.deps.Reconciler.Refund(r.Context(), firmID, id, req.Amount, req.Reason, req.AsCredit, actor(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "refunded"})
}

func (s *Server) listDisputes(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}

	list, err := s.deps.Disputes.ListOpen(r.Context(), firmID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"disputes": list})
}
