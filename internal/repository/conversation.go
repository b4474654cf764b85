package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/treestore"
)

// ConversationRepository handles store operations for conversations
type ConversationRepository struct {
	store    treestore.Gateway
	messages *MessageRepository
	now      func() time.Time
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(store treestore.Gateway, messages *MessageRepository) *ConversationRepository {
	return &ConversationRepository{store: store, messages: messages, now: time.Now}
}

func conversationPath(id string) string {
	return treestore.JoinPath(ConversationsPath, id)
}

// Create writes a conversation seeded with initialMessageID, which may be the
// empty sentinel, and then adds it to each participant's open conversations
// one participant at a time. The first failure is returned immediately, which
// can leave only the first participant updated.
func (r *ConversationRepository) Create(ctx context.Context, initialMessageID string, participantIDs []string) (string, error) {
	if len(participantIDs) != 2 || participantIDs[0] == participantIDs[1] {
		return "", ErrInvalidParticipants
	}

	id := r.store.ChildByAutoID(ConversationsPath)
	data := map[string]any{
		"associatedMessages":       EncodeSet([]string{initialMessageID}),
		"conversationParticipants": participantIDs,
		"lastModified":             FormatDate(r.now()),
	}
	if err := r.store.Set(ctx, conversationPath(id), data); err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}

	for _, userID := range participantIDs {
		if err := mutateSet(ctx, r.store, "user", userPath(userID), "openConversations", addID(id), nil); err != nil {
			return id, fmt.Errorf("failed to add conversation %s to user %s: %w", id, userID, err)
		}
	}
	return id, nil
}

// Get retrieves a conversation by ID
func (r *ConversationRepository) Get(ctx context.Context, id string) (*models.Conversation, error) {
	value, err := r.store.Get(ctx, conversationPath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return decodeConversation(id, value)
}

func decodeConversation(id string, value any) (*models.Conversation, error) {
	rec, err := asRecord("conversation", id, value)
	if err != nil {
		return nil, err
	}

	conv := &models.Conversation{ID: id}
	if conv.AssociatedMessages, err = rec.set("associatedMessages"); err != nil {
		return nil, err
	}
	if conv.Participants, err = rec.set("conversationParticipants"); err != nil {
		return nil, err
	}
	if len(conv.Participants) == 0 {
		return nil, rec.fail("conversationParticipants")
	}
	if conv.LastModified, err = rec.date("lastModified"); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetMany retrieves conversations by ID. It fails as a whole if any ID fails.
func (r *ConversationRepository) GetMany(ctx context.Context, ids []string) ([]*models.Conversation, error) {
	return fanOut(ctx, ids, r.Get)
}

// Delete removes a conversation in three strictly ordered steps: the
// participants' back-references, the messages, then the record. A failure
// stops the sequence, leaving whatever later steps would have removed.
func (r *ConversationRepository) Delete(ctx context.Context, conv *models.Conversation) error {
	if err := r.RemoveReference(ctx, conv.Participants, conv.ID); err != nil {
		return fmt.Errorf("failed to remove conversation references: %w", err)
	}

	if len(conv.AssociatedMessages) > 0 {
		if err := r.messages.DeleteMany(ctx, conv.AssociatedMessages); err != nil {
			return fmt.Errorf("failed to delete conversation messages: %w", err)
		}
	}

	if err := r.store.Remove(ctx, conversationPath(conv.ID)); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// RemoveReference drops conversationID from each user's open conversations.
// Users that no longer exist or never referenced it are skipped, so the
// call is safe to retry.
func (r *ConversationRepository) RemoveReference(ctx context.Context, userIDs []string, conversationID string) error {
	for _, userID := range userIDs {
		err := mutateSet(ctx, r.store, "user", userPath(userID), "openConversations", removeID(conversationID), nil)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// Touch sets the last modified date to now.
func (r *ConversationRepository) Touch(ctx context.Context, id string) error {
	if err := r.store.Update(ctx, conversationPath(id), map[string]any{"lastModified": FormatDate(r.now())}); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// ObserveOpened calls fn once for every conversation ID in the user's open
// conversations, first for existing ones and then for each addition. The
// returned listener must be cancelled.
func (r *ConversationRepository) ObserveOpened(ctx context.Context, userID string, fn func(conversationID string)) (*Listener, error) {
	return observeSet(ctx, r.store, treestore.JoinPath(userPath(userID), "openConversations"), fn)
}

// ObserveChanged calls fn with the refreshed conversation whenever one of
// its fields changes. The returned subscription must be cancelled.
func (r *ConversationRepository) ObserveChanged(ctx context.Context, id string, fn func(*models.Conversation)) (*treestore.Subscription, error) {
	return r.store.Observe(ctx, conversationPath(id), treestore.ChildChanged, func(ev treestore.Event) {
		conv, err := r.Get(ctx, id)
		if err != nil {
			return
		}
		fn(conv)
	})
}
