package api

import (
	"net/http"

	"github.com/mintfield/billcore/pkg/billing"
	"github.com/mintfield/billcore/pkg/httputil"
	"github.com/mintfield/billcore/pkg/ledger"
)

type addCreditRequest struct {
	ClientID  string        `json:"client_id"`
	Amount    billing.Cents `json:"amount_cents"`
	Source    string        `json:"source"`
	InvoiceID *string       `json:"invoice_id,omitempty"`
}

func (s *Server) addCredit(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}

	var req addCreditRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.ClientID, "client_id") {
		return
	}
	if !httputil.RequirePositive(w, int64(req.Amount), "amount_cents") {
		return
	}
	source := ledger.Source(req.Source)
	if source == "" {
		source = ledger.SourceGoodwill
	}

	entry, err := s.deps.Credits.AddCredit(r.Context(), firmID, req.ClientID, req.Amount, source, req.InvoiceID, actor(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, entry)
}

func (s *Server) getCreditBalance(w http.ResponseWriter, r *http.Request) {
	firmID, ok := httputil.ParsePathStringOrError(w, r, "firm_id")
	if !ok {
		return
	}
	clientID, ok := httputil.ParsePathStringOrError(w, r, "client_id")
	if !ok {
		return
	}

	balance, err := s.deps.Credits.Balance(r.Context(), firmID, clientID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	available, err := s.deps.Credits.Available(r.Context(), firmID, clientID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"client_id":       clientID,
		"balance_cents":   balance,
		"available_cents": available,
	})
}
