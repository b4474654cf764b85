package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/middleware"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ConversationHandler handles conversation and message HTTP requests
type ConversationHandler struct {
	conversations *services.ConversationService
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	convs, err := h.conversations.ForUser(r.Context(), session)
	if err != nil {
		log.Error().Err(err).Str("user_id", session.AccountID).Msg("Failed to list conversations")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// StartConversationRequest represents the request body for a new conversation
type StartConversationRequest struct {
	ParticipantID    string `json:"participant_id"`
	InitialMessageID string `json:"initial_message_id"`
}

// Start handles POST /api/v1/conversations
func (h *ConversationHandler) Start(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ParticipantID == "" {
		respondError(w, "participant_id is required", http.StatusBadRequest)
		return
	}

	conv, err := h.conversations.Start(r.Context(), session, req.ParticipantID, req.InitialMessageID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", session.AccountID).
			Str("participant_id", req.ParticipantID).
			Msg("Failed to start conversation")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.conversations.Delete(r.Context(), session, id); err != nil {
		log.Error().
			Err(err).
			Str("user_id", session.AccountID).
			Str("conversation_id", id).
			Msg("Failed to delete conversation")
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /api/v1/conversations/{id}/messages
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	msgs, err := h.conversations.Messages(r.Context(), session, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// SendMessageRequest represents the request body for a message
type SendMessageRequest struct {
	Content string `json:"content"`
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	id := chi.URLParam(r, "id")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.conversations.Send(r.Context(), session, id, req.Content)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", session.AccountID).
			Str("conversation_id", id).
			Msg("Failed to send message")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// MarkRead handles POST /api/v1/conversations/{id}/messages/{messageID}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	msg, err := h.conversations.MarkRead(r.Context(), session, chi.URLParam(r, "id"), chi.URLParam(r, "messageID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}
