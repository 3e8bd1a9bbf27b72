package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"pixwave/internal/domain"
	"pixwave/internal/domain/model"
	red "pixwave/internal/infra/redis"
	"pixwave/internal/usecase"

	"github.com/go-chi/chi/v5"
)

type enqueueRequest struct {
	UserID         string    `json:"user_id"`
	PromptTags     string    `json:"prompt_tags"`
	ModelName      string    `json:"model_name"`
	LoraNames      []string  `json:"lora_names,omitempty"`
	LoraWeights    []float64 `json:"lora_weights,omitempty"`
	Aspect         string    `json:"aspect,omitempty"`
	Seed           int64     `json:"seed,omitempty"`
	Cfg            string    `json:"cfg,omitempty"`
	ConsumeCredits bool      `json:"consume_credits"`
}

type enqueueResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type statusResponse struct {
	Status           string `json:"status"`
	Result           []byte `json:"result,omitempty"`
	ContentType      string `json:"content_type,omitempty"`
	Error            string `json:"error,omitempty"`
	Position         int    `json:"position,omitempty"`
	EstimatedSeconds int    `json:"estimated_seconds,omitempty"`
}

type errorResponse struct {
	Reason string `json:"reason"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	if s.limiter != nil && s.rateLimit > 0 && req.UserID != "" {
		ok, err := s.limiter.Allow(ctx, red.EnqueueKey(req.UserID), s.rateLimit, s.rateWin)
		if err != nil {
			s.log.Error().Err(err).Msg("rate limiter unavailable")
			// Fail open: a broken limiter must not take the queue down.
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
	}

	gen, err := s.genUC.Enqueue(ctx, req.UserID, usecase.EnqueueInput{
		PromptTags:     req.PromptTags,
		ModelName:      req.ModelName,
		LoraNames:      req.LoraNames,
		LoraWeights:    req.LoraWeights,
		Aspect:         req.Aspect,
		Seed:           req.Seed,
		CfgScale:       req.Cfg,
		ConsumeCredits: req.ConsumeCredits,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientCredits):
			writeError(w, http.StatusPaymentRequired, "insufficient_credits")
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "user_not_found")
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, "invalid_argument")
		default:
			s.log.Error().Err(err).Msg("enqueue failed")
			writeError(w, http.StatusInternalServerError, "internal")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{
		RequestID: gen.ID,
		Status:    string(gen.Status),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := s.genUC.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request_not_found")
			return
		}
		s.log.Error().Err(err).Str("request_id", id).Msg("status lookup failed")
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	resp := statusResponse{Status: string(st.Status)}
	switch st.Status {
	case model.GenerationStatusCompleted:
		resp.Result = st.Result
		resp.ContentType = st.ContentType
	case model.GenerationStatusFailed:
		resp.Error = st.Error
	default:
		resp.Position = st.QueuePosition
		resp.EstimatedSeconds = st.EstimatedSeconds
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	balance, err := s.ledger.GrantDailyIfNeeded(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		s.log.Error().Err(err).Str("user_id", userID).Msg("balance lookup failed")
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Enabled bool  `json:"enabled"`
		Balance int64 `json:"balance"`
	}{Enabled: s.ledger.IsEnabled(), Balance: balance})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.statsUC.Totals(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("stats failed")
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, errorResponse{Reason: reason})
}
