// Package api exposes the payment intent and access grant HTTP surface.
// Routing and middleware beyond these payloads are owned by collaborators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/medbridge-hq/medbridge-verifier/pkg/access"
	"github.com/medbridge-hq/medbridge-verifier/pkg/connmgr"
	"github.com/medbridge-hq/medbridge-verifier/pkg/intent"
	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
)

// Server serves the access API
type Server struct {
	port      string
	intents   *intent.Manager
	authority *access.Authority
	logger    logger.Logger
	httpSrv   *http.Server
}

// NewServer creates a new access API server
func NewServer(port string, intents *intent.Manager, authority *access.Authority, log logger.Logger) *Server {
	return &Server{
		port:      port,
		intents:   intents,
		authority: authority,
		logger:    log,
	}
}

// Start starts the access API server and blocks until it stops
func (s *Server) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/access/intents", s.handleCreateIntent)
	mux.HandleFunc("/access/confirm", s.handleConfirm)
	mux.HandleFunc("/access/verify", s.handleVerify)
	mux.HandleFunc("/access/revoke", s.handleRevoke)
	mux.HandleFunc("/access/downloads", s.handleRecordDownload)

	s.httpSrv = &http.Server{
		Addr:              ":" + s.port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Access API shutdown error: %v", err)
		}
	}()

	s.logger.Info("Starting access API server on port %s", s.port)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Access API server error: %v", err)
	}
}

type createIntentRequest struct {
	EvaluationRef string  `json:"evaluation_ref"`
	GranteeID     string  `json:"grantee_id"`
	PayerWallet   string  `json:"payer_wallet"`
	AmountUSD     float64 `json:"amount_usd"`
}

type createIntentResponse struct {
	IntentID          string    `json:"intent_id"`
	AmountUSD         float64   `json:"amount_usd"`
	AmountDrops       string    `json:"amount_drops"`
	DestinationWallet string    `json:"destination_wallet"`
	ExpiresAt         time.Time `json:"expires_at"`
	Memo              string    `json:"memo"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.EvaluationRef == "" || req.GranteeID == "" || req.PayerWallet == "" || req.AmountUSD <= 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "evaluation_ref, grantee_id, payer_wallet and a positive amount_usd are required"})
		return
	}

	created, instructions, err := s.intents.CreateIntent(req.EvaluationRef, req.GranteeID, req.PayerWallet, req.AmountUSD)
	if err != nil {
		if errors.Is(err, intent.ErrActiveIntentExists) {
			s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Reason: "active_intent_exists"})
			return
		}
		s.logger.Error("Failed to create intent: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to create intent"})
		return
	}

	s.writeJSON(w, http.StatusCreated, createIntentResponse{
		IntentID:          created.ID,
		AmountUSD:         created.AmountUSD,
		AmountDrops:       instructions.AmountDrops,
		DestinationWallet: instructions.DestinationWallet,
		ExpiresAt:         created.ExpiresAt,
		Memo:              instructions.Memo,
	})
}

type confirmRequest struct {
	IntentID   string `json:"intent_id"`
	SourceTxID string `json:"source_tx_id"`
}

type confirmResponse struct {
	Granted   bool       `json:"granted"`
	GrantID   string     `json:"grant_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Retryable bool       `json:"retryable,omitempty"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.IntentID == "" || req.SourceTxID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "intent_id and source_tx_id are required"})
		return
	}

	result, err := s.intents.ConfirmIntent(r.Context(), req.IntentID, req.SourceTxID)
	if err != nil {
		switch {
		case errors.Is(err, intent.ErrIntentNotFound):
			s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "intent not found"})
		case errors.Is(err, intent.ErrIntentExpired):
			s.writeJSON(w, http.StatusGone, errorResponse{Error: "intent expired", Reason: "intent_expired"})
		case errors.Is(err, connmgr.ErrAllProvidersUnavailable):
			s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service degraded", Reason: "all_providers_unavailable"})
		default:
			s.logger.Error("Failed to confirm intent %s: %v", req.IntentID, err)
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to confirm intent"})
		}
		return
	}

	resp := confirmResponse{
		Granted:   result.Granted,
		GrantID:   result.GrantID,
		Reason:    result.Reason,
		Retryable: result.Retryable,
	}
	if !result.GrantExpiresAt.IsZero() {
		resp.ExpiresAt = &result.GrantExpiresAt
	}

	switch {
	case result.Replayed:
		// The intent was already terminal; replay the stored outcome
		s.writeJSON(w, http.StatusConflict, resp)
	case result.Granted:
		s.writeJSON(w, http.StatusOK, resp)
	case result.Retryable:
		s.writeJSON(w, http.StatusAccepted, resp)
	default:
		// Terminal verification failure
		s.writeJSON(w, http.StatusBadRequest, resp)
	}
}

type verifyResponse struct {
	HasAccess bool       `json:"has_access"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	evaluationRef := r.URL.Query().Get("evaluationRef")
	granteeID := r.URL.Query().Get("granteeId")
	if evaluationRef == "" || granteeID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "evaluationRef and granteeId are required"})
		return
	}

	hasAccess, expiresAt, err := s.authority.CheckAccess(evaluationRef, granteeID)
	if err != nil {
		s.logger.Error("Failed to check access for %s/%s: %v", evaluationRef, granteeID, err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to check access"})
		return
	}

	resp := verifyResponse{HasAccess: hasAccess}
	if hasAccess {
		resp.ExpiresAt = &expiresAt
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type revokeRequest struct {
	GrantID string `json:"grant_id"`
	Reason  string `json:"reason"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GrantID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "grant_id is required"})
		return
	}

	if err := s.authority.Revoke(req.GrantID, req.Reason); err != nil {
		if errors.Is(err, access.ErrGrantNotFound) {
			s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "grant not found"})
			return
		}
		s.logger.Error("Failed to revoke grant %s: %v", req.GrantID, err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to revoke grant"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordDownloadRequest struct {
	GrantID string `json:"grant_id"`
	Bytes   int64  `json:"bytes"`
	Source  string `json:"source"`
}

func (s *Server) handleRecordDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req recordDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GrantID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "grant_id is required"})
		return
	}

	if err := s.authority.RecordDownload(req.GrantID, req.Bytes, req.Source); err != nil {
		if errors.Is(err, access.ErrGrantNotFound) {
			s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "grant not found"})
			return
		}
		s.logger.Error("Failed to record download for grant %s: %v", req.GrantID, err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to record download"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Error encoding response JSON: %v", err)
	}
}
