package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/adapter"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errStatus maps domain sentinels to HTTP codes; anything unrecognized is a
// plain 500 without leaking internals.
func errStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnknownProvider):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrPaymentNotCompleted):
		return http.StatusPaymentRequired, "payment not completed"
	case errors.Is(err, domain.ErrTransactionCanceled):
		return http.StatusConflict, "transaction canceled"
	case errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusBadRequest, "purchase could not be verified"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusForbidden, "daily quota exceeded"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "payment provider unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status, msg := errStatus(err)
	writeJSON(w, status, map[string]string{"error": msg})
}

type initiateRequest struct {
	PlanID   string `json:"plan_id"`
	Provider string `json:"provider"`
}

type initiateResponse struct {
	TransactionID string               `json:"transaction_id"`
	Launch        adapter.LaunchParams `json:"launch"`
}

func (s *Server) initiateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req initiateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		provider, err := model.ParseProvider(req.Provider)
		if err != nil {
			writeErr(w, err)
			return
		}

		txn, launch, err := s.payments.Initiate(r.Context(), UserIDFromContext(r.Context()), req.PlanID, provider)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, initiateResponse{TransactionID: txn.ID, Launch: launch})
	}
}

type verifyRequest struct {
	Provider string `json:"provider"`
	// Token is the provider-side proof: Payme receipt id or Google Play
	// purchase token.
	Token  string `json:"token"`
	PlanID string `json:"plan_id"`
}

type subscriptionView struct {
	Tier            string     `json:"tier"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	HasUsedTrial    bool       `json:"has_used_trial"`
}

func viewOf(s model.SubscriptionState) subscriptionView {
	return subscriptionView{
		Tier:            string(s.Tier),
		ExpiresAt:       s.ExpiresAt,
		CancelRequested: s.CancelRequested,
		HasUsedTrial:    s.HasUsedTrial,
	}
}

type verifyResponse struct {
	TransactionID string           `json:"transaction_id"`
	Status        string           `json:"status"`
	Subscription  subscriptionView `json:"subscription"`
}

func (s *Server) verifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		provider, err := model.ParseProvider(req.Provider)
		if err != nil {
			writeErr(w, err)
			return
		}
		if req.Token == "" || req.PlanID == "" {
			writeErr(w, domain.ErrInvalidArgument)
			return
		}

		txn, sub, err := s.payments.Verify(r.Context(), UserIDFromContext(r.Context()), provider, req.Token, req.PlanID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, verifyResponse{
			TransactionID: txn.ID,
			Status:        string(txn.Status),
			Subscription:  viewOf(sub),
		})
	}
}

type consumeRequest struct {
	Category string `json:"category"`
}

func (s *Server) consumeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req consumeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		category, ok := model.ParseUsageCategory(req.Category)
		if !ok {
			writeErr(w, domain.ErrInvalidArgument)
			return
		}

		res, err := s.quota.CheckAndConsume(r.Context(), UserIDFromContext(r.Context()), category)
		if errors.Is(err, domain.ErrQuotaExceeded) {
			// Denial carries the limit and reset time in the body.
			writeJSON(w, http.StatusForbidden, res)
			return
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) subscriptionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := s.entitlement.Resolve(r.Context(), UserIDFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(sub))
	}
}
