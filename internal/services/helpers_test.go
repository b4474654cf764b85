package services

import (
	"context"
	"sync"
	"testing"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/treestore"
	"github.com/stretchr/testify/require"
)

type sentNotice struct {
	kind   string
	userID string
	about  string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []sentNotice
}

func (n *recordingNotifier) add(kind, userID, about string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, sentNotice{kind: kind, userID: userID, about: about})
}

func (n *recordingNotifier) NewMatch(_ context.Context, userID string, match *models.User) {
	n.add("new_match", userID, match.ID)
}

func (n *recordingNotifier) MatchRemoved(_ context.Context, userID, byUserID string) {
	n.add("match_removed", userID, byUserID)
}

func (n *recordingNotifier) NewMessage(_ context.Context, userID string, _ string, message *models.Message) {
	n.add("new_message", userID, message.ID)
}

func (n *recordingNotifier) all() []sentNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotice(nil), n.notices...)
}

type env struct {
	store         *treestore.MemoryStore
	users         *repository.UserRepository
	convRepo      *repository.ConversationRepository
	messages      *repository.MessageRepository
	conversations *ConversationService
	matches       *MatchService
	notifier      *recordingNotifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := treestore.NewMemoryStore()
	messages := repository.NewMessageRepository(store)
	convRepo := repository.NewConversationRepository(store, messages)
	users := repository.NewUserRepository(store)
	notifier := &recordingNotifier{}
	conversations := NewConversationService(users, convRepo, messages, notifier)

	return &env{
		store:         store,
		users:         users,
		convRepo:      convRepo,
		messages:      messages,
		conversations: conversations,
		matches:       NewMatchService(users, conversations, notifier),
		notifier:      notifier,
	}
}

func (e *env) createUsers(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := e.users.Create(context.Background(), repository.CreateUserParams{
			ID:           id,
			EmailAddress: id + "@glaid.app",
			FirstName:    "Name " + id,
			LastName:     "Surname",
			PhoneNumber:  "+1555000000",
		})
		require.NoError(t, err)
	}
}

func (e *env) match(t *testing.T, a, b string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.users.Swipe(ctx, a, models.SwipeRight, b))
	require.NoError(t, e.users.Swipe(ctx, b, models.SwipeRight, a))
	require.NoError(t, e.users.UpdateMatches(ctx, a, b))
}

func (e *env) user(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := e.users.Get(context.Background(), id)
	require.NoError(t, err)
	return u
}

func sessionFor(id string) *models.Session {
	return &models.Session{AccountID: id, TokenID: "tok-" + id}
}
