package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mintfield/billcore/pkg/billing"
	"github.com/mintfield/billcore/pkg/engagement"
	"github.com/mintfield/billcore/pkg/httputil"
)

type createEngagementRequest struct {
	ClientID          string        `json:"client_id"`
	PricingMode       string        `json:"pricing_mode"`
	PackageFee        billing.Cents `json:"package_fee_cents"`
	PackageCadence    string        `json:"package_cadence"`
	DefaultHourlyRate billing.Cents `json:"default_hourly_rate_cents"`
	StartDate         time.Time     `json:"start_date"`
	EndDate           time.Time     `json:"end_date"`
}

func (s *Server) createEngagement(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}

	var req createEngagementRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.ClientID, "client_id") {
		return
	}
	if !req.EndDate.After(req.StartDate) {
		httputil.WriteValidationError(w, "end_date must be after start_date")
		return
	}

	now := time.Now().UTC()
	e := &engagement.Engagement{
		ID:                uuid.New().String(),
		FirmID:            firmID,
		ClientID:          req.ClientID,
		PricingMode:       engagement.PricingMode(req.PricingMode),
		PackageFee:        req.PackageFee,
		PackageCadence:    billing.Cadence(req.PackageCadence),
		DefaultHourlyRate: req.DefaultHourlyRate,
		StartDate:         req.StartDate.UTC(),
		EndDate:           req.EndDate.UTC(),
		Status:            engagement.StatusCurrent,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := engagement.Validate(e); err != nil {
		httputil.WriteUnprocessable(w, err.Error())
		return
	}
	if err := s.deps.Engagements.Create(r.Context(), e); err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, e)
}

func (s *Server) listEngagements(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}

	list, err := s.deps.Engagements.ListCurrent(r.Context(), firmID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"engagements": list})
}

func (s *Server) getEngagement(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	e, err := s.deps.Engagements.Get(r.Context(), firmID, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, e)
}

type renewEngagementRequest struct {
	PricingMode       *string        `json:"pricing_mode,omitempty"`
	PackageFee        *billing.Cents `json:"package_fee_cents,omitempty"`
	PackageCadence    *string        `json:"package_cadence,omitempty"`
	DefaultHourlyRate *billing.Cents `json:"default_hourly_rate_cents,omitempty"`
	EndDate           *time.Time     `json:"end_date,omitempty"`
}

func (s *Server) renewEngagement(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req renewEngagementRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	terms := &engagement.Terms{
		PackageFee:        req.PackageFee,
		DefaultHourlyRate: req.DefaultHourlyRate,
		EndDate:           req.EndDate,
	}
	if req.PricingMode != nil {
		mode := engagement.PricingMode(*req.PricingMode)
		terms.PricingMode = &mode
	}
	if req.PackageCadence != nil {
		cadence := billing.Cadence(*req.PackageCadence)
		terms.PackageCadence = &cadence
	}

	successor, err := s.deps.Renewer.Renew(r.Context(), firmID, id, terms, actor(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, successor)
}
