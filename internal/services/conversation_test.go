package services

import (
	"context"
	"errors"
	"testing"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/treestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRequiresMatch(t *testing.T) {
	e := newEnv(t)
	e.createUsers(t, "A", "B")

	_, err := e.conversations.Start(context.Background(), sessionFor("A"), "B", "")
	assert.ErrorIs(t, err, ErrNotMatched)

	_, err = e.conversations.Start(context.Background(), sessionFor("A"), "A", "")
	assert.ErrorIs(t, err, repository.ErrInvalidParticipants)
}

func TestStartReturnsExistingConversation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B")
	e.match(t, "A", "B")

	first, err := e.conversations.Start(ctx, sessionFor("A"), "B", "")
	require.NoError(t, err)
	assert.Nil(t, first.AssociatedMessages)
	assert.Equal(t, []string{"A", "B"}, first.Participants)
	require.NotNil(t, first.OtherUser)
	assert.Equal(t, "B", first.OtherUser.ID)

	second, err := e.conversations.Start(ctx, sessionFor("B"), "A", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "A", second.OtherUser.ID)

	assert.Equal(t, []string{first.ID}, e.user(t, "A").OpenConversations)
	assert.Equal(t, []string{first.ID}, e.user(t, "B").OpenConversations)
}

func TestSendAndFetchMessages(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B")
	e.match(t, "A", "B")
	conv, err := e.conversations.Start(ctx, sessionFor("A"), "B", "")
	require.NoError(t, err)

	sent, err := e.conversations.Send(ctx, sessionFor("A"), conv.ID, "hi there")
	require.NoError(t, err)
	assert.Equal(t, "A", sent.FromAccountIdentifier)
	assert.Equal(t, models.Undelivered, sent.State())
	assert.Contains(t, e.notifier.all(), sentNotice{kind: "new_message", userID: "B", about: sent.ID})

	own, err := e.conversations.Messages(ctx, sessionFor("A"), conv.ID)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, models.Undelivered, own[0].State())

	received, err := e.conversations.Messages(ctx, sessionFor("B"), conv.ID)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, models.Delivered, received[0].State())

	stored, err := e.messages.Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Delivered, stored.State())
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B", "C")
	e.match(t, "A", "B")
	conv, err := e.conversations.Start(ctx, sessionFor("A"), "B", "")
	require.NoError(t, err)

	_, err = e.conversations.Send(ctx, sessionFor("A"), conv.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = e.conversations.Send(ctx, sessionFor("C"), conv.ID, "hello")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = e.conversations.Send(ctx, sessionFor("A"), "missing", "hello")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestMarkReadOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B")
	e.match(t, "A", "B")
	conv, err := e.conversations.Start(ctx, sessionFor("A"), "B", "")
	require.NoError(t, err)
	sent, err := e.conversations.Send(ctx, sessionFor("A"), conv.ID, "read me")
	require.NoError(t, err)

	_, err = e.conversations.MarkRead(ctx, sessionFor("A"), conv.ID, sent.ID)
	assert.ErrorIs(t, err, ErrOwnMessage)

	read, err := e.conversations.MarkRead(ctx, sessionFor("B"), conv.ID, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Read, read.State())
	first := *read.ReadDate

	_, err = e.conversations.Messages(ctx, sessionFor("B"), conv.ID)
	require.NoError(t, err)

	again, err := e.conversations.MarkRead(ctx, sessionFor("B"), conv.ID, sent.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(*again.ReadDate))
}

func TestForUserOrdersByLastModified(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B", "C")
	e.match(t, "A", "B")
	e.match(t, "A", "C")

	withB, err := e.conversations.Start(ctx, sessionFor("A"), "B", "")
	require.NoError(t, err)
	withC, err := e.conversations.Start(ctx, sessionFor("A"), "C", "")
	require.NoError(t, err)

	require.NoError(t, e.store.Update(ctx, treestore.JoinPath(repository.ConversationsPath, withB.ID),
		map[string]any{"lastModified": "2024-03-10 09:00:00 GMT"}))
	require.NoError(t, e.store.Update(ctx, treestore.JoinPath(repository.ConversationsPath, withC.ID),
		map[string]any{"lastModified": "2024-03-09 09:00:00 GMT"}))

	convs, err := e.conversations.ForUser(ctx, sessionFor("A"))
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, withB.ID, convs[0].ID)
	assert.Equal(t, "B", convs[0].OtherUser.ID)
	assert.Equal(t, withC.ID, convs[1].ID)
	assert.Equal(t, "C", convs[1].OtherUser.ID)

	forB, err := e.conversations.ForUser(ctx, sessionFor("B"))
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Equal(t, "A", forB[0].OtherUser.ID)
}

func TestSetOtherUsersReportsEveryFailure(t *testing.T) {
	e := newEnv(t)
	e.createUsers(t, "A", "B")

	convs := []*models.Conversation{
		{ID: "c1", Participants: []string{"A", "B"}},
		{ID: "c2", Participants: []string{"A", "ghost1"}},
		{ID: "c3", Participants: []string{"A", "ghost2"}},
	}
	err := e.conversations.SetOtherUsers(context.Background(), sessionFor("A"), convs)

	var batch *repository.BatchError
	require.ErrorAs(t, err, &batch)
	assert.Len(t, batch.Errors, 2)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
	require.NotNil(t, convs[0].OtherUser)
	assert.Equal(t, "B", convs[0].OtherUser.ID)
}

func TestDeleteRequiresParticipant(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B", "C")
	e.match(t, "A", "B")
	conv, err := e.conversations.Start(ctx, sessionFor("A"), "B", "")
	require.NoError(t, err)

	assert.ErrorIs(t, e.conversations.Delete(ctx, sessionFor("C"), conv.ID), ErrNotParticipant)

	require.NoError(t, e.conversations.Delete(ctx, sessionFor("B"), conv.ID))
	assert.Nil(t, e.user(t, "A").OpenConversations)
	assert.Nil(t, e.user(t, "B").OpenConversations)
	assert.True(t, e.user(t, "A").HasMatch("B"))
}

func TestMarkReadRequiresParticipantAndThread(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B", "C", "D")
	e.match(t, "A", "B")
	e.match(t, "C", "D")
	ab, err := e.conversations.Start(ctx, sessionFor("A"), "B", "")
	require.NoError(t, err)
	cd, err := e.conversations.Start(ctx, sessionFor("C"), "D", "")
	require.NoError(t, err)
	sent, err := e.conversations.Send(ctx, sessionFor("A"), ab.ID, "only for B")
	require.NoError(t, err)

	_, err = e.conversations.MarkRead(ctx, sessionFor("C"), ab.ID, sent.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = e.conversations.MarkRead(ctx, sessionFor("C"), cd.ID, sent.ID)
	assert.ErrorIs(t, err, ErrMessageNotInThread)

	stored, err := e.messages.Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Undelivered, stored.State())
}

func TestStartRejectsForeignInitialMessage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B", "C", "D")
	e.match(t, "A", "B")
	e.match(t, "C", "D")
	cd, err := e.conversations.Start(ctx, sessionFor("C"), "D", "")
	require.NoError(t, err)
	theirs, err := e.conversations.Send(ctx, sessionFor("C"), cd.ID, "hello D")
	require.NoError(t, err)

	_, err = e.conversations.Start(ctx, sessionFor("A"), "B", theirs.ID)
	assert.ErrorIs(t, err, ErrInvalidInitialMessage)

	_, err = e.conversations.Start(ctx, sessionFor("A"), "B", "nope")
	assert.ErrorIs(t, err, ErrInvalidInitialMessage)
	assert.Nil(t, e.user(t, "A").OpenConversations)

	msgs, err := e.conversations.Messages(ctx, sessionFor("D"), cd.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, theirs.ID, msgs[0].ID)
}

func TestStartRejectsOwnAttachedMessage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B", "C")
	e.match(t, "A", "B")
	e.match(t, "A", "C")
	ab, err := e.conversations.Start(ctx, sessionFor("A"), "B", "")
	require.NoError(t, err)
	mine, err := e.conversations.Send(ctx, sessionFor("A"), ab.ID, "hi B")
	require.NoError(t, err)

	_, err = e.conversations.Start(ctx, sessionFor("A"), "C", mine.ID)
	assert.ErrorIs(t, err, ErrInvalidInitialMessage)
}

func TestStartSeedsUnattachedInitialMessage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createUsers(t, "A", "B")
	e.match(t, "A", "B")

	id := e.store.ChildByAutoID(repository.MessagesPath)
	require.NoError(t, e.store.Set(ctx, treestore.JoinPath(repository.MessagesPath, id), map[string]any{
		"fromAccountIdentifier": "A",
		"messageContent":        "first!",
		"sentDate":              "2024-03-09 18:30:00 GMT",
	}))

	conv, err := e.conversations.Start(ctx, sessionFor("A"), "B", id)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, conv.AssociatedMessages)

	msgs, err := e.conversations.Messages(ctx, sessionFor("B"), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "first!", msgs[0].Content)
}
