package services

import (
	"context"
	"testing"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/treestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileCompletesOneSidedMatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B")
	require.NoError(t, e.users.Swipe(ctx, "A", models.SwipeRight, "B"))
	require.NoError(t, e.users.Swipe(ctx, "B", models.SwipeRight, "A"))
	require.NoError(t, e.users.AddMatchReference(ctx, "A", "B"))

	report, err := NewReconciler(e.users, e.convRepo, false).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.UsersScanned)
	assert.Equal(t, 1, report.MatchesCompleted)
	assert.Zero(t, report.MatchesPruned)

	assert.Equal(t, []string{"A"}, e.user(t, "B").Matches)
	assert.Equal(t, []string{"B"}, e.user(t, "A").Matches)
}

func TestReconcilePrunesUnsupportedMatches(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B")
	require.NoError(t, e.users.AddMatchReference(ctx, "A", "B"))
	require.NoError(t, e.users.AddMatchReference(ctx, "A", "ghost"))

	report, err := NewReconciler(e.users, e.convRepo, false).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.MatchesPruned)
	assert.Nil(t, e.user(t, "A").Matches)
	assert.Nil(t, e.user(t, "B").Matches)
}

func TestReconcilePrunesDanglingConversations(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B")
	e.match(t, "A", "B")
	conv, err := e.conversations.Start(ctx, sessionFor("A"), "B", "")
	require.NoError(t, err)

	require.NoError(t, e.store.Update(ctx, treestore.JoinPath(repository.UsersPath, "A"),
		map[string]any{"openConversations": []string{conv.ID, "gone"}}))

	report, err := NewReconciler(e.users, e.convRepo, false).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ConversationsPruned)
	assert.Equal(t, []string{conv.ID}, e.user(t, "A").OpenConversations)
	assert.Equal(t, []string{conv.ID}, e.user(t, "B").OpenConversations)
}

func TestReconcilePromotesMutualLikesWhenEnabled(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B")
	require.NoError(t, e.users.Swipe(ctx, "A", models.SwipeRight, "B"))
	require.NoError(t, e.users.Swipe(ctx, "B", models.SwipeRight, "A"))

	report, err := NewReconciler(e.users, e.convRepo, false).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.MatchesPromoted)
	assert.Nil(t, e.user(t, "A").Matches)

	report, err = NewReconciler(e.users, e.convRepo, true).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MatchesPromoted)
	assert.Equal(t, []string{"B"}, e.user(t, "A").Matches)
	assert.Equal(t, []string{"A"}, e.user(t, "B").Matches)
}

func TestReconcileSkipsUnreadableUsers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A")
	require.NoError(t, e.store.Set(ctx, treestore.JoinPath(repository.UsersPath, "broken"), map[string]any{"firstName": 7}))

	report, err := NewReconciler(e.users, e.convRepo, false).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.UsersScanned)
	assert.Equal(t, 1, report.Skipped)
}

func TestReconcilerStartStopsWithContext(t *testing.T) {
	e := newEnv(t)
	e.createUsers(t, "A", "B")
	require.NoError(t, e.users.AddMatchReference(context.Background(), "A", "B"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	NewReconciler(e.users, e.convRepo, false).Start(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return !e.user(t, "A").HasMatch("B")
	}, time.Second, 10*time.Millisecond)
}
