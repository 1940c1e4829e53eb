package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/mintfield/billcore/pkg/audit"
	"github.com/mintfield/billcore/pkg/httputil"
	"github.com/mintfield/billcore/pkg/processor"
)

// SignatureHeader carries the processor's HMAC signature of the webhook
// payload.
const SignatureHeader = "X-Processor-Signature"

// processorWebhook ingests payment processor events. Replayed deliveries
// are acknowledged without effect; the reconciler deduplicates by event id.
func (s *Server) processorWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "unreadable body")
		return
	}

	event, err := processor.ParseEvent(body, r.Header.Get(SignatureHeader), s.deps.WebhookSecret)
	if err != nil {
		switch {
		case errors.Is(err, processor.ErrBadSignature):
			s.rejectWebhook(r, "bad_signature")
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, processor.ErrMalformedEvent):
			s.rejectWebhook(r, "malformed")
			httputil.WriteBadRequest(w, err.Error())
		default:
			s.writeDomainError(w, err)
		}
		return
	}

	if err := s.deps.Reconciler.HandleEvent(r.Context(), event); err != nil {
		// A non-2xx response makes the processor redeliver.
		s.writeDomainError(w, err)
		return
	}

	s.metrics.WebhookEventsTotal.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case processor.EventDisputeOpened:
		s.metrics.DisputesOpenedTotal.Inc()
	case processor.EventDisputeClosed:
		s.metrics.DisputesClosedTotal.WithLabelValues(event.Outcome).Inc()
	}

	httputil.WriteSuccess(w, map[string]string{"status": "accepted", "event_id": event.EventID})
}

// rejectWebhook records a delivery that never reached the reconciler. The
// payload is untrusted at this point, so no firm can be attributed.
func (s *Server) rejectWebhook(r *http.Request, reason string) {
	s.metrics.WebhookRejectedTotal.WithLabelValues(reason).Inc()
	audit.Emit(r.Context(), s.deps.Audit, "", audit.ActionEventRejected, nil, audit.SeverityWarning, map[string]any{
		"reason":      reason,
		"remote_addr": r.RemoteAddr,
	})
}
