package api

import (
	"net/http"
	"time"

	"github.com/mintfield/billcore/pkg/httputil"
)

// runPackageInvoices triggers a package invoice generation sweep. The sweep
// is idempotent per billing period, so replaying it is always safe.
func (s *Server) runPackageInvoices(w http.ResponseWriter, r *http.Request) {
	firmID := httputil.ParseQueryString(r, "firm_id", "")
	dryRun, err := httputil.ParseQueryBool(r, "dry_run", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := s.deps.Generator.GeneratePackageInvoices(r.Context(), firmID, dryRun)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !dryRun {
		s.metrics.InvoicesGeneratedTotal.WithLabelValues("package").Add(float64(result.Generated))
		s.metrics.InvoicesSkippedTotal.WithLabelValues("invalid_terms").Add(float64(result.Skipped))
		s.metrics.DuplicatePeriodsTotal.Add(float64(result.Duplicates))
	}
	httputil.WriteAccepted(w, result)
}

// runRecurringCharges triggers an autopay charge run for due invoices.
func (s *Server) runRecurringCharges(w http.ResponseWriter, r *http.Request) {
	firmID := httputil.ParseQueryString(r, "firm_id", "")
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

	result, err := s.deps.Executor.ExecuteDue(r.Context(), firmID, asOf, dryRun)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !dryRun {
		s.metrics.ChargesAttemptedTotal.WithLabelValues("charged").Add(float64(result.Charged))
		s.metrics.ChargesAttemptedTotal.WithLabelValues("rescheduled").Add(float64(result.Rescheduled))
		s.metrics.ChargesAttemptedTotal.WithLabelValues("exhausted").Add(float64(result.Exhausted))
	}
	httputil.WriteAccepted(w, result)
}
