package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/middleware"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // native clients send no Origin
	},
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub      *services.WSHub
	sessions *services.SessionService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *services.WSHub, sessions *services.SessionService) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		sessions: sessions,
	}
}

// HandleWebSocket handles GET /ws?token=...
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.ValidateWebSocketToken(r.URL.Query().Get("token"), h.sessions)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	if err := h.hub.Register(ctx, session, conn); err != nil {
		log.Error().Err(err).Str("user_id", session.AccountID).Msg("Failed to register WebSocket connection")
		return
	}
	defer h.hub.Unregister(session.AccountID, conn)

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", session.AccountID).Msg("WebSocket error")
			}
			break
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("user_id", session.AccountID).Msg("Failed to parse WebSocket message")
			h.sendError(session.AccountID, "Invalid message format")
			continue
		}

		if err := h.handleMessage(ctx, session, msg); err != nil {
			log.Error().Err(err).Str("user_id", session.AccountID).Str("type", msg.Type).Msg("Failed to handle message")
			h.sendError(session.AccountID, err.Error())
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(ctx context.Context, session *models.Session, msg services.WSMessage) error {
	switch msg.Type {
	case "subscribe":
		if err := h.hub.Subscribe(ctx, session.AccountID, msg.ConversationID); err != nil {
			return err
		}
		return h.hub.SendToUser(session.AccountID, services.WSMessage{Type: "subscribed", ConversationID: msg.ConversationID})
	case "unsubscribe":
		h.hub.Unsubscribe(session.AccountID, msg.ConversationID)
		return nil
	case "ping":
		return h.hub.SendToUser(session.AccountID, services.WSMessage{Type: "pong"})
	default:
		h.sendError(session.AccountID, "Unknown message type")
		return nil
	}
}

// sendError sends an error message to a user
func (h *WebSocketHandler) sendError(userID, message string) {
	if err := h.hub.SendToUser(userID, services.WSMessage{Type: "error", Message: message}); err != nil {
		log.Debug().Err(err).Str("user_id", userID).Msg("Failed to send error message")
	}
}
