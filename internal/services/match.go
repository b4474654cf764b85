package services

import (
	"context"
	"fmt"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/metrics"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"

	"github.com/rs/zerolog/log"
)

// MatchService handles swipes and the matches they produce
type MatchService struct {
	users         *repository.UserRepository
	conversations *ConversationService
	notifier      Notifier
}

// NewMatchService creates a new match service
func NewMatchService(users *repository.UserRepository, conversations *ConversationService, notifier Notifier) *MatchService {
	if notifier == nil {
		notifier = Notifiers{}
	}
	return &MatchService{
		users:         users,
		conversations: conversations,
		notifier:      notifier,
	}
}

// SwipeResult reports the outcome of a swipe
type SwipeResult struct {
	Matched bool         `json:"matched"`
	Match   *models.User `json:"match,omitempty"`
}

// Swipe records the session user's swipe on target. On a right swipe the
// target's own right swipes are checked, and if they already include the
// session user the two are matched and both notified.
//
// The check reads the target as stored at this moment. If both users
// swipe right at nearly the same time, each may miss the other's write and
// no match is made until the reconciler promotes it or one swipes again.
func (s *MatchService) Swipe(ctx context.Context, session *models.Session, direction models.SwipeDirection, targetID string) (*SwipeResult, error) {
	if !direction.Valid() || targetID == "" || targetID == session.AccountID {
		return nil, ErrInvalidSwipe
	}

	target, err := s.users.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if err := s.users.Swipe(ctx, session.AccountID, direction, targetID); err != nil {
		return nil, fmt.Errorf("failed to record swipe: %w", err)
	}
	metrics.SwipesTotal.WithLabelValues(string(direction)).Inc()

	if direction != models.SwipeRight || !target.HasSwiped(models.SwipeRight, session.AccountID) {
		return &SwipeResult{}, nil
	}

	if err := s.users.UpdateMatches(ctx, targetID, session.AccountID); err != nil {
		log.Warn().
			Err(err).
			Str("user_id", session.AccountID).
			Str("target_id", targetID).
			Msg("Match may be one-sided")
		return nil, fmt.Errorf("failed to update matches: %w", err)
	}
	metrics.MatchesTotal.WithLabelValues("matched").Inc()

	log.Info().
		Str("user_id", session.AccountID).
		Str("target_id", targetID).
		Msg("New match")

	if self, err := s.users.Get(ctx, session.AccountID); err == nil {
		s.notifier.NewMatch(ctx, targetID, self)
	} else {
		log.Warn().Err(err).Str("user_id", session.AccountID).Msg("Failed to load user for match notice")
	}
	s.notifier.NewMatch(ctx, session.AccountID, target)

	return &SwipeResult{Matched: true, Match: target}, nil
}

// UndoSwipe removes the session user's swipe on target. It does not touch
// matches.
func (s *MatchService) UndoSwipe(ctx context.Context, session *models.Session, direction models.SwipeDirection, targetID string) error {
	if !direction.Valid() || targetID == "" {
		return ErrInvalidSwipe
	}
	return s.users.UndoSwipe(ctx, session.AccountID, direction, targetID)
}

// Unmatch dissolves the match between the session user and otherID. The
// shared conversation and its messages are deleted first, then both
// matches lists are pruned and the session user's like is reversed so the
// pair could match again.
func (s *MatchService) Unmatch(ctx context.Context, session *models.Session, otherID string) error {
	user, err := s.users.Get(ctx, session.AccountID)
	if err != nil {
		return err
	}
	if !user.HasMatch(otherID) {
		return ErrNotMatched
	}

	conv, err := s.conversations.Between(ctx, session, otherID)
	if err != nil {
		return fmt.Errorf("failed to find conversation: %w", err)
	}
	if conv != nil {
		if err := s.conversations.delete(ctx, conv); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
	}

	if err := s.users.RemoveMatch(ctx, otherID, session.AccountID); err != nil {
		log.Warn().
			Err(err).
			Str("user_id", session.AccountID).
			Str("other_id", otherID).
			Msg("Unmatch may be one-sided")
		return fmt.Errorf("failed to remove match: %w", err)
	}
	metrics.MatchesTotal.WithLabelValues("dissolved").Inc()

	log.Info().
		Str("user_id", session.AccountID).
		Str("other_id", otherID).
		Msg("Match dissolved")

	s.notifier.MatchRemoved(ctx, otherID, session.AccountID)
	return nil
}

// Matches returns the session user's matched users.
func (s *MatchService) Matches(ctx context.Context, session *models.Session) ([]*models.User, error) {
	user, err := s.users.Get(ctx, session.AccountID)
	if err != nil {
		return nil, err
	}
	if len(user.Matches) == 0 {
		return []*models.User{}, nil
	}
	return s.users.GetMany(ctx, user.Matches)
}

// Candidates returns up to amount random users the session user has not
// swiped on or matched with. A non-positive amount returns all of them.
// Fewer candidates than requested is reported as a notice.
func (s *MatchService) Candidates(ctx context.Context, session *models.Session, amount int) ([]*models.User, repository.Notice, error) {
	user, err := s.users.Get(ctx, session.AccountID)
	if err != nil {
		return nil, repository.NoNotice, err
	}

	ids, _, err := s.users.RandomIDs(ctx, nil)
	if err != nil {
		return nil, repository.NoNotice, err
	}

	picked := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == user.ID ||
			user.HasMatch(id) ||
			user.HasSwiped(models.SwipeRight, id) ||
			user.HasSwiped(models.SwipeLeft, id) {
			continue
		}
		picked = append(picked, id)
	}

	notice := repository.NoNotice
	if amount > 0 {
		if amount > len(picked) {
			notice = repository.NoticeAmountExceedsPopulation
		} else {
			picked = picked[:amount]
		}
	}
	if len(picked) == 0 {
		return []*models.User{}, notice, nil
	}

	users, err := s.users.GetMany(ctx, picked)
	if err != nil {
		return nil, repository.NoNotice, err
	}
	return users, notice, nil
}
