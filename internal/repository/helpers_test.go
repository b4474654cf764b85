package repository

import (
	"context"
	"testing"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/treestore"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)

type fixture struct {
	store         *treestore.MemoryStore
	users         *UserRepository
	conversations *ConversationRepository
	messages      *MessageRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := treestore.NewMemoryStore()
	clock := func() time.Time { return fixedNow }

	messages := NewMessageRepository(store)
	messages.now = clock
	conversations := NewConversationRepository(store, messages)
	conversations.now = clock
	users := NewUserRepository(store)
	users.now = clock

	return &fixture{store: store, users: users, conversations: conversations, messages: messages}
}

func (f *fixture) createUser(t *testing.T, id string) {
	t.Helper()
	_, err := f.users.Create(context.Background(), CreateUserParams{
		ID:           id,
		EmailAddress: id + "@glaid.app",
		FirstName:    "First " + id,
		LastName:     "Last " + id,
		PhoneNumber:  "+4400000000",
	})
	require.NoError(t, err)
}
