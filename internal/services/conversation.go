package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/metrics"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ConversationService handles conversation and message business logic
type ConversationService struct {
	users         *repository.UserRepository
	conversations *repository.ConversationRepository
	messages      *repository.MessageRepository
	notifier      Notifier
}

// NewConversationService creates a new conversation service
func NewConversationService(
	users *repository.UserRepository,
	conversations *repository.ConversationRepository,
	messages *repository.MessageRepository,
	notifier Notifier,
) *ConversationService {
	if notifier == nil {
		notifier = Notifiers{}
	}
	return &ConversationService{
		users:         users,
		conversations: conversations,
		messages:      messages,
		notifier:      notifier,
	}
}

// SetOtherUser resolves the participant that is not the session user and
// caches it on conv.
func (s *ConversationService) SetOtherUser(ctx context.Context, session *models.Session, conv *models.Conversation) error {
	otherID, ok := conv.OtherParticipant(session.AccountID)
	if !ok {
		return fmt.Errorf("conversation %s has no other participant", conv.ID)
	}
	user, err := s.users.Get(ctx, otherID)
	if err != nil {
		return err
	}
	conv.OtherUser = user
	return nil
}

// SetOtherUsers attempts every conversation before returning. Failures do
// not stop the others and are reported together.
func (s *ConversationService) SetOtherUsers(ctx context.Context, session *models.Session, convs []*models.Conversation) error {
	errs := make([]error, len(convs))
	var g errgroup.Group
	for i, conv := range convs {
		g.Go(func() error {
			errs[i] = s.SetOtherUser(ctx, session, conv)
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return &repository.BatchError{Errors: failed}
	}
	return nil
}

// ForUser returns the session user's open conversations with the other
// user resolved, most recently modified first.
func (s *ConversationService) ForUser(ctx context.Context, session *models.Session) ([]*models.Conversation, error) {
	user, err := s.users.Get(ctx, session.AccountID)
	if err != nil {
		return nil, err
	}
	if len(user.OpenConversations) == 0 {
		return []*models.Conversation{}, nil
	}

	convs, err := s.conversations.GetMany(ctx, user.OpenConversations)
	if err != nil {
		return nil, err
	}
	if err := s.SetOtherUsers(ctx, session, convs); err != nil {
		return nil, err
	}

	slices.SortStableFunc(convs, func(a, b *models.Conversation) int {
		return b.LastModified.Compare(a.LastModified)
	})
	return convs, nil
}

// Get returns a conversation the session user takes part in.
func (s *ConversationService) Get(ctx context.Context, session *models.Session, id string) (*models.Conversation, error) {
	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(session.AccountID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// Between returns the open conversation shared by the session user and
// otherID, or nil when there is none. Dangling references are skipped.
func (s *ConversationService) Between(ctx context.Context, session *models.Session, otherID string) (*models.Conversation, error) {
	user, err := s.users.Get(ctx, session.AccountID)
	if err != nil {
		return nil, err
	}
	for _, id := range user.OpenConversations {
		conv, err := s.conversations.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if conv.HasParticipant(otherID) {
			return conv, nil
		}
	}
	return nil, nil
}

// Start opens a conversation with a matched user, returning the existing one
// if they already share a conversation. An empty initialMessageID starts it
// without messages.
func (s *ConversationService) Start(ctx context.Context, session *models.Session, otherID, initialMessageID string) (*models.Conversation, error) {
	if otherID == session.AccountID {
		return nil, repository.ErrInvalidParticipants
	}
	user, err := s.users.Get(ctx, session.AccountID)
	if err != nil {
		return nil, err
	}
	if !user.HasMatch(otherID) {
		return nil, ErrNotMatched
	}

	existing, err := s.Between(ctx, session, otherID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, s.SetOtherUser(ctx, session, existing)
	}

	if initialMessageID == "" {
		initialMessageID = repository.EmptySentinel
	} else if err := s.checkInitialMessage(ctx, session, otherID, initialMessageID); err != nil {
		return nil, err
	}
	id, err := s.conversations.Create(ctx, initialMessageID, []string{session.AccountID, otherID})
	if err != nil {
		log.Warn().
			Err(err).
			Str("user_id", session.AccountID).
			Str("conversation_id", id).
			Msg("Conversation membership may be partial")
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	metrics.ConversationsTotal.WithLabelValues("started").Inc()

	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.SetOtherUser(ctx, session, conv); err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", session.AccountID).
		Str("conversation_id", id).
		Msg("Conversation started")
	return conv, nil
}

// checkInitialMessage accepts only a message the session user sent that no
// conversation of either participant already holds. Deleting the new
// conversation deletes its messages, so a borrowed id would take another
// conversation's message with it.
func (s *ConversationService) checkInitialMessage(ctx context.Context, session *models.Session, otherID, messageID string) error {
	msg, err := s.messages.Get(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvalidInitialMessage
	}
	if err != nil {
		return err
	}
	if msg.FromAccountIdentifier != session.AccountID {
		return ErrInvalidInitialMessage
	}

	for _, userID := range []string{session.AccountID, otherID} {
		user, err := s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		for _, convID := range user.OpenConversations {
			conv, err := s.conversations.Get(ctx, convID)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if slices.Contains(conv.AssociatedMessages, messageID) {
				return ErrInvalidInitialMessage
			}
		}
	}
	return nil
}

// Delete removes a conversation the session user takes part in together
// with its messages and both participants' references to it.
func (s *ConversationService) Delete(ctx context.Context, session *models.Session, id string) error {
	conv, err := s.Get(ctx, session, id)
	if err != nil {
		return err
	}
	return s.delete(ctx, conv)
}

func (s *ConversationService) delete(ctx context.Context, conv *models.Conversation) error {
	if err := s.conversations.Delete(ctx, conv); err != nil {
		log.Warn().
			Err(err).
			Str("conversation_id", conv.ID).
			Msg("Conversation deletion stopped partway")
		return err
	}
	metrics.ConversationsTotal.WithLabelValues("deleted").Inc()
	return nil
}

// Messages returns the conversation's messages in send order. Messages
// from the other participant that were never delivered are marked
// delivered on the way out.
func (s *ConversationService) Messages(ctx context.Context, session *models.Session, conversationID string) ([]*models.Message, error) {
	conv, err := s.Get(ctx, session, conversationID)
	if err != nil {
		return nil, err
	}
	if len(conv.AssociatedMessages) == 0 {
		return []*models.Message{}, nil
	}

	msgs, err := s.messages.GetMany(ctx, conv.AssociatedMessages)
	if err != nil {
		return nil, err
	}

	for _, msg := range msgs {
		if msg.FromAccountIdentifier == session.AccountID || msg.State() != models.Undelivered {
			continue
		}
		if err := s.messages.MarkDelivered(ctx, msg.ID); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to mark message delivered")
			continue
		}
		delivered := repository.UnreadDate()
		msg.ReadDate = &delivered
	}
	return msgs, nil
}

// Send writes a message from the session user and notifies the other
// participant.
func (s *ConversationService) Send(ctx context.Context, session *models.Session, conversationID, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	conv, err := s.Get(ctx, session, conversationID)
	if err != nil {
		return nil, err
	}

	id, err := s.messages.Create(ctx, session.AccountID, conv.ID, content)
	if err != nil {
		if id != "" {
			log.Warn().
				Err(err).
				Str("message_id", id).
				Str("conversation_id", conv.ID).
				Msg("Message written but not appended to conversation")
		}
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	metrics.MessagesTotal.Inc()

	msg, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if otherID, ok := conv.OtherParticipant(session.AccountID); ok {
		s.notifier.NewMessage(ctx, otherID, conv.ID, msg)
	}
	return msg, nil
}

// MarkRead records that the session user read a message of a conversation
// they take part in. Read dates only move forward: a message already read
// keeps its first read date.
func (s *ConversationService) MarkRead(ctx context.Context, session *models.Session, conversationID, messageID string) (*models.Message, error) {
	conv, err := s.Get(ctx, session, conversationID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(conv.AssociatedMessages, messageID) {
		return nil, ErrMessageNotInThread
	}

	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.FromAccountIdentifier == session.AccountID {
		return nil, ErrOwnMessage
	}
	if msg.State() == models.Read {
		return msg, nil
	}
	if err := s.messages.UpdateReadDate(ctx, messageID); err != nil {
		return nil, err
	}
	return s.messages.Get(ctx, messageID)
}
