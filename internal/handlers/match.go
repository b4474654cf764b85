package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/middleware"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// MatchHandler handles swipe and match HTTP requests
type MatchHandler struct {
	matches *services.MatchService
}

// NewMatchHandler creates a new match handler
func NewMatchHandler(matches *services.MatchService) *MatchHandler {
	return &MatchHandler{matches: matches}
}

// SwipeRequest represents the request body for a swipe
type SwipeRequest struct {
	Direction models.SwipeDirection `json:"direction"`
	UserID    string                `json:"user_id"`
}

func decodeSwipe(w http.ResponseWriter, r *http.Request) (*SwipeRequest, bool) {
	var req SwipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	if !req.Direction.Valid() {
		respondError(w, "direction must be left or right", http.StatusBadRequest)
		return nil, false
	}
	if req.UserID == "" {
		respondError(w, "user_id is required", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

// Swipe handles POST /api/v1/swipes
func (h *MatchHandler) Swipe(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	req, ok := decodeSwipe(w, r)
	if !ok {
		return
	}

	result, err := h.matches.Swipe(r.Context(), session, req.Direction, req.UserID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", session.AccountID).
			Str("target_id", req.UserID).
			Msg("Failed to swipe")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// UndoSwipe handles DELETE /api/v1/swipes
func (h *MatchHandler) UndoSwipe(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	req, ok := decodeSwipe(w, r)
	if !ok {
		return
	}

	if err := h.matches.UndoSwipe(r.Context(), session, req.Direction, req.UserID); err != nil {
		log.Error().Err(err).Str("user_id", session.AccountID).Msg("Failed to undo swipe")
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Matches handles GET /api/v1/matches
func (h *MatchHandler) Matches(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	users, err := h.matches.Matches(r.Context(), session)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"matches": users})
}

// Unmatch handles DELETE /api/v1/matches/{user_id}
func (h *MatchHandler) Unmatch(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	otherID := chi.URLParam(r, "user_id")

	if err := h.matches.Unmatch(r.Context(), session, otherID); err != nil {
		log.Error().
			Err(err).
			Str("user_id", session.AccountID).
			Str("other_id", otherID).
			Msg("Failed to unmatch")
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CandidatesResponse is a deck of users to swipe on
type CandidatesResponse struct {
	Users  []*models.User `json:"users"`
	Notice string         `json:"notice,omitempty"`
}

// Candidates handles GET /api/v1/candidates?amount=n
func (h *MatchHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	amount := 0
	if raw := r.URL.Query().Get("amount"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(w, "amount must be a non-negative integer", http.StatusBadRequest)
			return
		}
		amount = parsed
	}

	users, notice, err := h.matches.Candidates(r.Context(), session, amount)
	if err != nil {
		log.Error().Err(err).Str("user_id", session.AccountID).Msg("Failed to load candidates")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, CandidatesResponse{Users: users, Notice: string(notice)})
}
