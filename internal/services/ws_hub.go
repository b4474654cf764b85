package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/metrics"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Message        string `json:"message,omitempty"`
	Data           any    `json:"data,omitempty"`
}

// wsClient is one live connection and the store listeners it owns.
type wsClient struct {
	session *models.Session
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc

	writeMu sync.Mutex

	mu        sync.Mutex
	opened    *repository.Listener
	appended  map[string]*repository.Listener
	readDates map[string]map[string]*repository.Listener // conversation -> message
}

func (c *wsClient) send(message WSMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// close tears down every listener the connection registered.
func (c *wsClient) close() {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened != nil {
		c.opened.Cancel()
	}
	for id, l := range c.appended {
		l.Cancel()
		delete(c.appended, id)
	}
	for id := range c.readDates {
		c.dropReadDates(id)
	}
	c.conn.Close()
}

// dropReadDates cancels the read receipt listeners of one conversation.
// The caller holds c.mu.
func (c *wsClient) dropReadDates(conversationID string) {
	for _, l := range c.readDates[conversationID] {
		l.Cancel()
	}
	delete(c.readDates, conversationID)
}

// WSHub manages WebSocket connections and streams store changes to them
type WSHub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient

	conversations *ConversationService
	convRepo      *repository.ConversationRepository
	messages      *repository.MessageRepository
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(conversations *ConversationService, convRepo *repository.ConversationRepository, messages *repository.MessageRepository) *WSHub {
	return &WSHub{
		clients:       make(map[string]*wsClient),
		conversations: conversations,
		convRepo:      convRepo,
		messages:      messages,
	}
}

var _ Notifier = (*WSHub)(nil)

// Register attaches a connection to the session user, replacing any older
// one, and starts streaming newly opened conversations.
func (h *WSHub) Register(ctx context.Context, session *models.Session, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	client := &wsClient{
		session:   session,
		conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
		appended:  make(map[string]*repository.Listener),
		readDates: make(map[string]map[string]*repository.Listener),
	}

	h.mu.Lock()
	existing := h.clients[session.AccountID]
	h.clients[session.AccountID] = client
	h.mu.Unlock()
	if existing != nil {
		existing.close()
		metrics.DecrementWSConnections()
	}
	metrics.IncrementWSConnections()

	opened, err := h.convRepo.ObserveOpened(ctx, session.AccountID, func(conversationID string) {
		h.trySend(client, WSMessage{Type: "conversation_opened", ConversationID: conversationID})
	})
	if err != nil {
		h.Unregister(session.AccountID, conn)
		return fmt.Errorf("failed to observe conversations: %w", err)
	}
	client.mu.Lock()
	client.opened = opened
	client.mu.Unlock()

	log.Info().Str("user_id", session.AccountID).Msg("WebSocket connection registered")
	return nil
}

// Unregister removes the connection if it is still the user's current one.
func (h *WSHub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	client, exists := h.clients[userID]
	if !exists || client.conn != conn {
		h.mu.Unlock()
		return
	}
	delete(h.clients, userID)
	h.mu.Unlock()

	client.close()
	metrics.DecrementWSConnections()
	log.Info().Str("user_id", userID).Msg("WebSocket connection unregistered")
}

func (h *WSHub) client(userID string) (*wsClient, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[userID]
	return c, ok
}

// SendToUser sends a message to a specific user
func (h *WSHub) SendToUser(userID string, message WSMessage) error {
	client, exists := h.client(userID)
	if !exists {
		return fmt.Errorf("user %s is not connected", userID)
	}
	if err := client.send(message); err != nil {
		h.Unregister(userID, client.conn)
		return err
	}
	return nil
}

func (h *WSHub) trySend(client *wsClient, message WSMessage) {
	if err := client.send(message); err != nil {
		log.Warn().
			Err(err).
			Str("user_id", client.session.AccountID).
			Str("type", message.Type).
			Msg("Failed to deliver WebSocket message")
	}
}

// IsOnline checks if a user is online
func (h *WSHub) IsOnline(userID string) bool {
	_, ok := h.client(userID)
	return ok
}

// Subscribe streams the conversation's messages to the user, starting with
// the ones already sent. Read receipts for the user's own messages follow.
func (h *WSHub) Subscribe(ctx context.Context, userID, conversationID string) error {
	client, ok := h.client(userID)
	if !ok {
		return fmt.Errorf("user %s is not connected", userID)
	}
	if _, err := h.conversations.Get(ctx, client.session, conversationID); err != nil {
		return err
	}

	client.mu.Lock()
	_, subscribed := client.appended[conversationID]
	client.mu.Unlock()
	if subscribed {
		return nil
	}

	listener, err := h.messages.ObserveAppended(client.ctx, conversationID, func(messageID string) {
		h.forwardMessage(client, conversationID, messageID)
	})
	if err != nil {
		return fmt.Errorf("failed to observe conversation: %w", err)
	}

	client.mu.Lock()
	if _, raced := client.appended[conversationID]; raced {
		client.mu.Unlock()
		listener.Cancel()
		return nil
	}
	client.appended[conversationID] = listener
	client.mu.Unlock()
	return nil
}

func (h *WSHub) forwardMessage(client *wsClient, conversationID, messageID string) {
	msg, err := h.messages.Get(client.ctx, messageID)
	if err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("Failed to load appended message")
		return
	}
	h.trySend(client, WSMessage{Type: "message", ConversationID: conversationID, Data: msg})

	if msg.FromAccountIdentifier != client.session.AccountID || msg.State() == models.Read {
		return
	}

	client.mu.Lock()
	_, watching := client.readDates[conversationID][messageID]
	client.mu.Unlock()
	if watching {
		return
	}

	listener, err := h.messages.ObserveReadDate(client.ctx, messageID, func(readDate time.Time) {
		kind := "message_read"
		if readDate.Equal(repository.UnreadDate()) {
			kind = "message_delivered"
		}
		h.trySend(client, WSMessage{Type: kind, ConversationID: conversationID, MessageID: messageID})
	})
	if err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("Failed to observe read date")
		return
	}
	client.mu.Lock()
	if _, raced := client.readDates[conversationID][messageID]; raced {
		client.mu.Unlock()
		listener.Cancel()
		return
	}
	if client.readDates[conversationID] == nil {
		client.readDates[conversationID] = make(map[string]*repository.Listener)
	}
	client.readDates[conversationID][messageID] = listener
	client.mu.Unlock()
}

// Unsubscribe stops streaming a conversation and its read receipts.
func (h *WSHub) Unsubscribe(userID, conversationID string) {
	client, ok := h.client(userID)
	if !ok {
		return
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if l, ok := client.appended[conversationID]; ok {
		l.Cancel()
		delete(client.appended, conversationID)
	}
	client.dropReadDates(conversationID)
}

func (h *WSHub) subscribed(userID, conversationID string) bool {
	client, ok := h.client(userID)
	if !ok {
		return false
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	_, ok = client.appended[conversationID]
	return ok
}

func (h *WSHub) NewMatch(_ context.Context, userID string, match *models.User) {
	if !h.IsOnline(userID) {
		return
	}
	if err := h.SendToUser(userID, WSMessage{Type: "new_match", UserID: match.ID, Data: match}); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to send new_match")
	}
}

func (h *WSHub) MatchRemoved(_ context.Context, userID, byUserID string) {
	if !h.IsOnline(userID) {
		return
	}
	if err := h.SendToUser(userID, WSMessage{Type: "match_removed", UserID: byUserID}); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to send match_removed")
	}
}

// NewMessage only notifies users that are not already streaming the
// conversation.
func (h *WSHub) NewMessage(_ context.Context, userID string, conversationID string, message *models.Message) {
	if !h.IsOnline(userID) || h.subscribed(userID, conversationID) {
		return
	}
	err := h.SendToUser(userID, WSMessage{
		Type:           "new_message",
		ConversationID: conversationID,
		MessageID:      message.ID,
		Data:           message,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to send new_message")
	}
}
