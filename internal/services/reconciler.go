package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/metrics"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"

	"github.com/rs/zerolog/log"
)

// ReconcileReport counts the repairs made by one pass
type ReconcileReport struct {
	UsersScanned        int `json:"users_scanned"`
	MatchesCompleted    int `json:"matches_completed"`
	MatchesPruned       int `json:"matches_pruned"`
	MatchesPromoted     int `json:"matches_promoted"`
	ConversationsPruned int `json:"conversations_pruned"`
	Skipped             int `json:"skipped"`
}

// Reconciler repairs references left asymmetric by interrupted multi-write
// sequences. Nothing is locked, so a pass racing live writes can itself
// observe a half-finished sequence; it only acts on what it reads.
type Reconciler struct {
	users         *repository.UserRepository
	conversations *repository.ConversationRepository

	// PromoteMutualLikes matches pairs that like each other but were never
	// matched, which happens when both swipe right at nearly the same time.
	PromoteMutualLikes bool
}

// NewReconciler creates a new reconciler
func NewReconciler(users *repository.UserRepository, conversations *repository.ConversationRepository, promoteMutualLikes bool) *Reconciler {
	return &Reconciler{
		users:              users,
		conversations:      conversations,
		PromoteMutualLikes: promoteMutualLikes,
	}
}

// Run scans every user once.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	ids, err := r.users.IDs(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	report := &ReconcileReport{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			metrics.ReconcileRuns.WithLabelValues("cancelled").Inc()
			return report, err
		}
		if err := r.reconcileUser(ctx, id, report); err != nil {
			report.Skipped++
			log.Warn().Err(err).Str("user_id", id).Msg("Skipped user during reconciliation")
		}
		report.UsersScanned++
	}

	metrics.ReconcileRuns.WithLabelValues("ok").Inc()
	log.Info().
		Int("users", report.UsersScanned).
		Int("matches_completed", report.MatchesCompleted).
		Int("matches_pruned", report.MatchesPruned).
		Int("matches_promoted", report.MatchesPromoted).
		Int("conversations_pruned", report.ConversationsPruned).
		Int("skipped", report.Skipped).
		Msg("Reconciliation pass finished")
	return report, nil
}

func (r *Reconciler) reconcileUser(ctx context.Context, id string, report *ReconcileReport) error {
	user, err := r.users.Get(ctx, id)
	if err != nil {
		return err
	}

	for _, otherID := range user.Matches {
		if err := r.reconcileMatch(ctx, user, otherID, report); err != nil {
			return err
		}
	}

	if r.PromoteMutualLikes {
		for _, otherID := range user.SwipedRightOn {
			if user.HasMatch(otherID) || otherID == id {
				continue
			}
			other, err := r.users.Get(ctx, otherID)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !other.HasSwiped(models.SwipeRight, id) {
				continue
			}
			if err := r.users.UpdateMatches(ctx, id, otherID); err != nil {
				return fmt.Errorf("failed to promote match with %s: %w", otherID, err)
			}
			report.MatchesPromoted++
			metrics.ReconcileRepairs.WithLabelValues("match_promoted").Inc()
		}
	}

	for _, convID := range user.OpenConversations {
		_, err := r.conversations.Get(ctx, convID)
		if !errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err := r.conversations.RemoveReference(ctx, []string{id}, convID); err != nil {
			return fmt.Errorf("failed to prune conversation %s: %w", convID, err)
		}
		report.ConversationsPruned++
		metrics.ReconcileRepairs.WithLabelValues("conversation_pruned").Inc()
	}
	return nil
}

// reconcileMatch handles user listing otherID as a match. If other does not
// list user back, the missing side is added while both still like each
// other, and the dangling side is pruned otherwise.
func (r *Reconciler) reconcileMatch(ctx context.Context, user *models.User, otherID string, report *ReconcileReport) error {
	other, err := r.users.Get(ctx, otherID)
	if errors.Is(err, repository.ErrNotFound) {
		if err := r.users.RemoveMatchReference(ctx, user.ID, otherID); err != nil {
			return err
		}
		report.MatchesPruned++
		metrics.ReconcileRepairs.WithLabelValues("match_pruned").Inc()
		return nil
	}
	if err != nil {
		return err
	}
	if other.HasMatch(user.ID) {
		return nil
	}

	if user.HasSwiped(models.SwipeRight, otherID) && other.HasSwiped(models.SwipeRight, user.ID) {
		if err := r.users.AddMatchReference(ctx, otherID, user.ID); err != nil {
			return err
		}
		report.MatchesCompleted++
		metrics.ReconcileRepairs.WithLabelValues("match_completed").Inc()
		return nil
	}

	if err := r.users.RemoveMatchReference(ctx, user.ID, otherID); err != nil {
		return err
	}
	report.MatchesPruned++
	metrics.ReconcileRepairs.WithLabelValues("match_pruned").Inc()
	return nil
}

// Start runs a pass every interval until ctx is done. A non-positive
// interval disables it.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("Reconciliation pass failed")
				}
			}
		}
	}()
}
