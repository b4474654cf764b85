package services

import (
	"context"
	"fmt"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/config"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/metrics"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

type pusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// PushNotifier sends notices to the user's registered iOS device
type PushNotifier struct {
	client pusher
	topic  string
	users  *repository.UserRepository
}

// NewPushNotifier creates an APNs notifier using token based auth
func NewPushNotifier(users *repository.UserRepository, cfg config.APNsConfig) (*PushNotifier, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &PushNotifier{client: client, topic: cfg.Topic, users: users}, nil
}

var _ Notifier = (*PushNotifier)(nil)

func (p *PushNotifier) NewMatch(ctx context.Context, userID string, match *models.User) {
	body := payload.NewPayload().
		AlertTitle("New Match").
		AlertBody(fmt.Sprintf("You and %s like each other.", match.FirstName)).
		Sound("default").
		Custom("type", "new_match").
		Custom("user_id", match.ID)
	p.push(ctx, "new_match", userID, body)
}

func (p *PushNotifier) MatchRemoved(ctx context.Context, userID, byUserID string) {
	body := payload.NewPayload().
		ContentAvailable().
		Custom("type", "match_removed").
		Custom("user_id", byUserID)
	p.push(ctx, "match_removed", userID, body)
}

func (p *PushNotifier) NewMessage(ctx context.Context, userID string, conversationID string, message *models.Message) {
	body := payload.NewPayload().
		AlertBody(message.Content).
		Sound("default").
		ThreadID(conversationID).
		Custom("type", "new_message").
		Custom("conversation_id", conversationID).
		Custom("message_id", message.ID)
	p.push(ctx, "new_message", userID, body)
}

func (p *PushNotifier) push(ctx context.Context, kind, userID string, body *payload.Payload) {
	deviceToken, err := p.users.GetPushToken(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to get push token")
		return
	}
	if deviceToken == "" {
		return
	}

	res, err := p.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       p.topic,
		Payload:     body,
	})
	switch {
	case err != nil:
		metrics.PushNotificationsTotal.WithLabelValues(kind, "error").Inc()
		log.Error().Err(err).Str("user_id", userID).Str("kind", kind).Msg("Failed to send push notification")
	case !res.Sent():
		metrics.PushNotificationsTotal.WithLabelValues(kind, "rejected").Inc()
		log.Warn().
			Str("user_id", userID).
			Str("kind", kind).
			Int("status", res.StatusCode).
			Str("reason", res.Reason).
			Msg("Push notification rejected")
		if res.Reason == apns2.ReasonBadDeviceToken || res.Reason == apns2.ReasonUnregistered {
			if err := p.users.SetPushToken(ctx, userID, ""); err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("Failed to clear push token")
			}
		}
	default:
		metrics.PushNotificationsTotal.WithLabelValues(kind, "sent").Inc()
	}
}
