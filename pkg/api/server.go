package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/autopay"
	"github.com/mintfield/billcore/pkg/engagement"
	"github.com/mintfield/billcore/pkg/httputil"
	"github.com/mintfield/billcore/pkg/invoices"
	"github.com/mintfield/billcore/pkg/ledger"
	"github.com/mintfield/billcore/pkg/observability"
	"github.com/mintfield/billcore/pkg/processor"
	"github.com/mintfield/billcore/pkg/reconcile"
	"github.com/mintfield/billcore/pkg/timeentry"
)

// maxBodyBytes caps request bodies. Processor webhooks are the largest
// payloads and stay well under this.
const maxBodyBytes = 1 << 20

// Dependencies carries everything the server needs. Audit, Health, and
// Metrics may be nil; the server substitutes no-op equivalents.
type Dependencies struct {
	Engagements engagement.Store
	Renewer     *engagement.Renewer
	Entries     timeentry.Store
	Gate        *timeentry.Gate
	Invoices    invoices.Store
	Generator   *invoices.Generator
	Scheduler   *autopay.Scheduler
	Executor    *autopay.Executor
	Profiles    autopay.ProfileStore
	Reconciler  *reconcile.Service
	Disputes    reconcile.DisputeStore
	Credits     *ledger.Service

	WebhookSecret string

	Audit   audit.Logger
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Log     *logrus.Logger
}

// Server is the billing HTTP API.
type Server struct {
	deps    Dependencies
	router  *mux.Router
	handler http.Handler
	metrics *observability.Metrics
	log     *logrus.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(deps Dependencies) *Server {
	if deps.Log == nil {
		deps.Log = logrus.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics(nil)
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopLogger{}
	}

	s := &Server{
		deps:    deps,
		router:  mux.NewRouter(),
		metrics: deps.Metrics,
		log:     deps.Log,
	}
	s.setupRoutes()

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(deps.Log),
		httputil.LoggingMiddleware(deps.Log),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)(s.router)

	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Engagement lifecycle
	s.handle("/v1/firms/{firm_id}/engagements", s.createEngagement, "POST")
	s.handle("/v1/firms/{firm_id}/engagements", s.listEngagements, "GET")
	s.handle("/v1/firms/{firm_id}/engagements/{id}", s.getEngagement, "GET")
	s.handle("/v1/firms/{firm_id}/engagements/{id}/renew", s.renewEngagement, "POST")
	s.handle("/v1/firms/{firm_id}/engagements/{id}/invoice", s.generateHourlyInvoice, "POST")

	// Time entry approval gate
	s.handle("/v1/firms/{firm_id}/time-entries", s.createTimeEntry, "POST")
	s.handle("/v1/firms/{firm_id}/time-entries/{id}/approve", s.approveTimeEntry, "POST")
	s.handle("/v1/firms/{firm_id}/time-entries/{id}/revoke", s.revokeTimeEntry, "POST")

	// Invoices
	s.handle("/v1/firms/{firm_id}/invoices", s.listInvoices, "GET")
	s.handle("/v1/firms/{firm_id}/invoices/{id}", s.getInvoice, "GET")
	s.handle("/v1/firms/{firm_id}/invoices/{id}/schedule-autopay", s.scheduleAutopay, "POST")
	s.handle("/v1/firms/{firm_id}/invoices/{id}/refund", s.refundInvoice, "POST")

	// Credit ledger
	s.handle("/v1/firms/{firm_id}/credits", s.addCredit, "POST")
	s.handle("/v1/firms/{firm_id}/clients/{client_id}/credit-balance", s.getCreditBalance, "GET")

	// Autopay profiles
	s.handle("/v1/firms/{firm_id}/clients/{client_id}/autopay-profile", s.upsertAutopayProfile, "PUT")
	s.handle("/v1/firms/{firm_id}/clients/{client_id}/autopay-profile", s.getAutopayProfile, "GET")

	// Disputes
	s.handle("/v1/firms/{firm_id}/disputes", s.listDisputes, "GET")

	// Batch triggers
	s.handle("/v1/batch/package-invoices", s.runPackageInvoices, "POST")
	s.handle("/v1/batch/recurring-charges", s.runRecurringCharges, "POST")

	// Processor integration
	s.handle("/v1/webhooks/processor", s.processorWebhook, "POST")

	// Operational endpoints
	if s.deps.Health != nil {
		s.router.HandleFunc("/healthz", s.deps.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.deps.Health.Readiness).Methods("GET")
	}
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

// handle registers a route instrumented with request metrics keyed by the
// route pattern.
func (s *Server) handle(path string, h http.HandlerFunc, methods ...string) {
	s.router.Handle(path, s.metrics.InstrumentHandler(path, h)).Methods(methods...)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// actor identifies the caller for audit attribution. Authentication lives
// in front of this service; the gateway injects the caller identity.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

// writeDomainError maps domain errors to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engagement.ErrNotFound),
		errors.Is(err, timeentry.ErrNotFound),
		errors.Is(err, invoices.ErrNotFound),
		errors.Is(err, autopay.ErrProfileNotFound),
		errors.Is(err, reconcile.ErrDisputeNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, invoices.ErrStatusConflict),
		errors.Is(err, timeentry.ErrAlreadyInvoiced),
		errors.Is(err, timeentry.ErrImmutableAfterInvoicing):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ledger.ErrApprovalRequired):
		httputil.WriteErrorMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, engagement.ErrInvalidPricingTerms),
		errors.Is(err, invoices.ErrNoBillableEntries),
		errors.Is(err, invoices.ErrNotBillable),
		errors.Is(err, autopay.ErrNotEnrolled),
		errors.Is(err, reconcile.ErrNotRefundable),
		errors.Is(err, ledger.ErrInsufficientCredit),
		errors.Is(err, ledger.ErrInvalidAmount):
		httputil.WriteUnprocessable(w, err.Error())
	case errors.Is(err, processor.ErrProcessorUnavailable):
		httputil.WriteServiceUnavailable(w, err.Error())
	default:
		s.log.WithError(err).Error("request failed")
		httputil.WriteInternalError(w, err)
	}
}
