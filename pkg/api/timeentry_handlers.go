package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mintfield/billcore/pkg/billing"
	"github.com/mintfield/billcore/pkg/httputil"
	"github.com/mintfield/billcore/pkg/timeentry"
)

type createTimeEntryRequest struct {
	EngagementID string        `json:"engagement_id"`
	Description  string        `json:"description"`
	Date         time.Time     `json:"date"`
	Hours        float64       `json:"hours"`
	HourlyRate   billing.Cents `json:"hourly_rate_cents"`
}

func (s *Server) createTimeEntry(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}

	var req createTimeEntryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.EngagementID, "engagement_id") {
		return
	}
	if req.Hours <= 0 {
		httputil.WriteValidationError(w, "hours must be positive")
		return
	}

	eng, err := s.deps.Engagements.Get(r.Context(), firmID, req.EngagementID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	rate := req.HourlyRate
	if rate == 0 {
		rate = eng.DefaultHourlyRate
	}
	if rate <= 0 {
		httputil.WriteValidationError(w, "hourly_rate_cents must be positive")
		return
	}

	date := req.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	now := time.Now().UTC()
	entry := &timeentry.Entry{
		ID:           uuid.New().String(),
		FirmID:       firmID,
		EngagementID: req.EngagementID,
		Description:  req.Description,
		Date:         date.UTC(),
		Hours:        req.Hours,
		HourlyRate:   rate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.deps.Entries.Create(r.Context(), entry); err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, entry)
}

func (s *Server) approveTimeEntry(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.deps.Gate.Approve(r.Context(), firmID, id, actor(r)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "approved"})
}

func (s *Server) revokeTimeEntry(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.deps.Gate.Revoke(r.Context(), firmID, id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
