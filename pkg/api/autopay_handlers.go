package api

import (
	"net/http"
	"time"

	"github.com/mintfield/billcore/pkg/autopay"
	"github.com/mintfield/billcore/pkg/httputil"
)

type upsertAutopayProfileRequest struct {
	Enabled         bool   `json:"enabled"`
	PaymentMethodID string `json:"payment_method_id"`
}

func (s *Server) upsertAutopayProfile(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}
	clientID, ok := httputil.ParsePathStringOrError(w, r, "client_id")
	if !ok {
		return
	}

	var req upsertAutopayProfileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Enabled && req.PaymentMethodID == "" {
		httputil.WriteValidationError(w, "payment_method_id is required when autopay is enabled")
		return
	}

	p := &autopay.Profile{
		FirmID:          firmID,
		ClientID:        clientID,
		Enabled:         req.Enabled,
		PaymentMethodID: req.PaymentMethodID,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := s.deps.Profiles.Upsert(r.Context(), p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

func (s *Server) getAutopayProfile(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}
	clientID, ok := httputil.ParsePathStringOrError(w, r, "client_id")
	if !ok {
		return
	}

	p, err := s.deps.Profiles.Get(r.Context(), firmID, clientID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, p)
}
