package services

import (
	"context"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
)

// Notifier delivers out-of-band notices to a user. Delivery is best effort
// and never fails the operation that triggered it.
type Notifier interface {
	NewMatch(ctx context.Context, userID string, match *models.User)
	MatchRemoved(ctx context.Context, userID, byUserID string)
	NewMessage(ctx context.Context, userID string, conversationID string, message *models.Message)
}

// Notifiers fans every notice out to each notifier in turn.
type Notifiers []Notifier

func (n Notifiers) NewMatch(ctx context.Context, userID string, match *models.User) {
	for _, notifier := range n {
		notifier.NewMatch(ctx, userID, match)
	}
}

func (n Notifiers) MatchRemoved(ctx context.Context, userID, byUserID string) {
	for _, notifier := range n {
		notifier.MatchRemoved(ctx, userID, byUserID)
	}
}

func (n Notifiers) NewMessage(ctx context.Context, userID string, conversationID string, message *models.Message) {
	for _, notifier := range n {
		notifier.NewMessage(ctx, userID, conversationID, message)
	}
}
