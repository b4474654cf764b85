package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/treestore"
)

// MessageRepository handles store operations for messages
type MessageRepository struct {
	store treestore.Gateway
	now   func() time.Time
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(store treestore.Gateway) *MessageRepository {
	return &MessageRepository{store: store, now: time.Now}
}

func messagePath(id string) string {
	return treestore.JoinPath(MessagesPath, id)
}

// Create writes a new message and appends it to the conversation's message
// list. The append is a read-modify-write, so concurrent senders in the same
// conversation can lose an append. Callers holding a cached conversation
// must update it themselves.
func (r *MessageRepository) Create(ctx context.Context, fromAccountID, conversationID, content string) (string, error) {
	conversation, err := r.store.Get(ctx, conversationPath(conversationID))
	if err != nil {
		return "", fmt.Errorf("failed to get conversation: %w", err)
	}
	if conversation == nil {
		return "", notFound("conversation", conversationID)
	}

	id := r.store.ChildByAutoID(MessagesPath)
	sent := r.now()
	data := map[string]any{
		"fromAccountIdentifier": fromAccountID,
		"messageContent":        content,
		"sentDate":              FormatDate(sent),
	}
	if err := r.store.Set(ctx, messagePath(id), data); err != nil {
		return "", fmt.Errorf("failed to create message: %w", err)
	}

	err = mutateSet(ctx, r.store, "conversation", conversationPath(conversationID), "associatedMessages",
		appendID(id), map[string]any{"lastModified": FormatDate(sent)})
	if err != nil {
		return id, fmt.Errorf("failed to append message %s to conversation: %w", id, err)
	}
	return id, nil
}

// Get retrieves a message by ID
func (r *MessageRepository) Get(ctx context.Context, id string) (*models.Message, error) {
	value, err := r.store.Get(ctx, messagePath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return decodeMessage(id, value)
}

func decodeMessage(id string, value any) (*models.Message, error) {
	rec, err := asRecord("message", id, value)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{ID: id}
	if msg.FromAccountIdentifier, err = rec.str("fromAccountIdentifier"); err != nil {
		return nil, err
	}
	if msg.Content, err = rec.str("messageContent"); err != nil {
		return nil, err
	}
	if msg.SentDate, err = rec.date("sentDate"); err != nil {
		return nil, err
	}
	if msg.ReadDate, err = rec.optionalDate("readDate"); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMany retrieves messages by ID. It fails as a whole if any ID fails.
func (r *MessageRepository) GetMany(ctx context.Context, ids []string) ([]*models.Message, error) {
	return fanOut(ctx, ids, r.Get)
}

// UpdateReadDate sets the read date to now. It does not check the current
// state first.
func (r *MessageRepository) UpdateReadDate(ctx context.Context, id string) error {
	return r.setReadDate(ctx, id, r.now())
}

// MarkDelivered sets the delivered-but-unread marker.
func (r *MessageRepository) MarkDelivered(ctx context.Context, id string) error {
	return r.setReadDate(ctx, id, unreadDate)
}

func (r *MessageRepository) setReadDate(ctx context.Context, id string, at time.Time) error {
	value, err := r.store.Get(ctx, messagePath(id))
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}
	if value == nil {
		return notFound("message", id)
	}
	if err := r.store.Update(ctx, messagePath(id), map[string]any{"readDate": FormatDate(at)}); err != nil {
		return fmt.Errorf("failed to update read date: %w", err)
	}
	return nil
}

// DeleteMany removes messages by ID, reporting every failure together.
func (r *MessageRepository) DeleteMany(ctx context.Context, ids []string) error {
	_, err := fanOut(ctx, ids, func(ctx context.Context, id string) (struct{}, error) {
		if err := r.store.Remove(ctx, messagePath(id)); err != nil {
			return struct{}{}, fmt.Errorf("failed to delete message %s: %w", id, err)
		}
		return struct{}{}, nil
	})
	return err
}

// ObserveAppended calls fn for every message ID in the conversation,
// first for the existing ones and then for each append. The returned
// listener must be cancelled.
func (r *MessageRepository) ObserveAppended(ctx context.Context, conversationID string, fn func(messageID string)) (*Listener, error) {
	return observeSet(ctx, r.store, treestore.JoinPath(conversationPath(conversationID), "associatedMessages"), fn)
}

// ObserveReadDate calls fn whenever the message's read date is set or
// changes. Both returned subscriptions must be cancelled; use Listener.
func (r *MessageRepository) ObserveReadDate(ctx context.Context, messageID string, fn func(readDate time.Time)) (*Listener, error) {
	handler := func(ev treestore.Event) {
		if ev.Key != "readDate" {
			return
		}
		s, ok := ev.Value.(string)
		if !ok {
			return
		}
		if t, err := ParseDate(s); err == nil {
			fn(t)
		}
	}

	added, err := r.store.Observe(ctx, messagePath(messageID), treestore.ChildAdded, handler)
	if err != nil {
		return nil, err
	}
	changed, err := r.store.Observe(ctx, messagePath(messageID), treestore.ChildChanged, handler)
	if err != nil {
		added.Cancel()
		return nil, err
	}
	return &Listener{subs: []*treestore.Subscription{added, changed}}, nil
}

// Listener groups subscriptions that are torn down together.
type Listener struct {
	subs []*treestore.Subscription
}

// observeSet reports each id of a relationship list once. Replacing the
// sentinel at index 0 arrives as a change rather than an addition, and
// removals shift later ids to new indices, so both kinds are watched and
// deduplicated.
func observeSet(ctx context.Context, store treestore.Gateway, path string, fn func(id string)) (*Listener, error) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	handler := func(ev treestore.Event) {
		id, ok := ev.Value.(string)
		if !ok || id == EmptySentinel {
			return
		}
		mu.Lock()
		dup := seen[id]
		seen[id] = true
		mu.Unlock()
		if !dup {
			fn(id)
		}
	}

	added, err := store.Observe(ctx, path, treestore.ChildAdded, handler)
	if err != nil {
		return nil, err
	}
	changed, err := store.Observe(ctx, path, treestore.ChildChanged, handler)
	if err != nil {
		added.Cancel()
		return nil, err
	}
	return &Listener{subs: []*treestore.Subscription{added, changed}}, nil
}

// Cancel tears down every subscription.
func (l *Listener) Cancel() {
	for _, s := range l.subs {
		s.Cancel()
	}
}
