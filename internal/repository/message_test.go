package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConversation(t *testing.T, f *fixture) string {
	t.Helper()
	f.createUser(t, "u1")
	f.createUser(t, "u2")
	id, err := f.conversations.Create(context.Background(), EmptySentinel, []string{"u1", "u2"})
	require.NoError(t, err)
	return id
}

func TestCreateMessageAppendsToConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	convID := newConversation(t, f)

	first, err := f.messages.Create(ctx, "u1", convID, "hello")
	require.NoError(t, err)
	second, err := f.messages.Create(ctx, "u2", convID, "hi!")
	require.NoError(t, err)

	conv, err := f.conversations.Get(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, conv.AssociatedMessages)

	msg, err := f.messages.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "u1", msg.FromAccountIdentifier)
	assert.Equal(t, "hello", msg.Content)
	assert.True(t, fixedNow.Equal(msg.SentDate))
	assert.Nil(t, msg.ReadDate)
	assert.Equal(t, models.Undelivered, msg.State())
}

func TestCreateMessageInMissingConversation(t *testing.T) {
	f := newFixture(t)

	_, err := f.messages.Create(context.Background(), "u1", "nope", "hello")
	assert.True(t, errors.Is(err, ErrNotFound))

	keys, err := f.store.Keys(context.Background(), MessagesPath)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestReadDateTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	convID := newConversation(t, f)
	id, err := f.messages.Create(ctx, "u1", convID, "hello")
	require.NoError(t, err)

	require.NoError(t, f.messages.MarkDelivered(ctx, id))
	msg, err := f.messages.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.Delivered, msg.State())

	raw, err := f.store.Get(ctx, "allMessages/"+id+"/readDate")
	require.NoError(t, err)
	assert.Equal(t, "1970-01-01 00:00:00 GMT", raw)

	require.NoError(t, f.messages.UpdateReadDate(ctx, id))
	msg, err = f.messages.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.Read, msg.State())
	assert.True(t, fixedNow.Equal(*msg.ReadDate))
}

func TestUpdateReadDateMissingMessage(t *testing.T) {
	f := newFixture(t)
	err := f.messages.UpdateReadDate(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetMessageRejectsBadDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Set(ctx, "allMessages/m1", map[string]any{
		"fromAccountIdentifier": "u1",
		"messageContent":        "hi",
		"sentDate":              "yesterday",
	}))

	_, err := f.messages.Get(ctx, "m1")
	var de *DeserializeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "sentDate", de.Field)
}

func TestGetMessagesIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	convID := newConversation(t, f)
	id, err := f.messages.Create(ctx, "u1", convID, "hello")
	require.NoError(t, err)

	msgs, err := f.messages.GetMany(ctx, []string{id, "m-missing-1", "m-missing-2"})
	assert.Nil(t, msgs)
	var batch *BatchError
	require.ErrorAs(t, err, &batch)
	assert.Len(t, batch.Errors, 2)
}

func TestDeleteMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Set(ctx, "allMessages/m1", map[string]any{"messageContent": "a"}))
	require.NoError(t, f.store.Set(ctx, "allMessages/m2", map[string]any{"messageContent": "b"}))
	require.NoError(t, f.store.Set(ctx, "allMessages/m3", map[string]any{"messageContent": "c"}))

	require.NoError(t, f.messages.DeleteMany(ctx, []string{"m1", "m3"}))

	keys, err := f.store.Keys(ctx, MessagesPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, keys)
}

func TestObserveAppended(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	convID := newConversation(t, f)

	var seen []string
	l, err := f.messages.ObserveAppended(ctx, convID, func(id string) { seen = append(seen, id) })
	require.NoError(t, err)
	defer l.Cancel()
	assert.Empty(t, seen)

	first, err := f.messages.Create(ctx, "u1", convID, "one")
	require.NoError(t, err)
	second, err := f.messages.Create(ctx, "u2", convID, "two")
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, seen)

	l.Cancel()
	_, err = f.messages.Create(ctx, "u1", convID, "three")
	require.NoError(t, err)
	assert.Len(t, seen, 2)
}

func TestObserveReadDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	convID := newConversation(t, f)
	id, err := f.messages.Create(ctx, "u1", convID, "hello")
	require.NoError(t, err)

	var dates []time.Time
	l, err := f.messages.ObserveReadDate(ctx, id, func(at time.Time) { dates = append(dates, at) })
	require.NoError(t, err)
	defer l.Cancel()

	require.NoError(t, f.messages.MarkDelivered(ctx, id))
	require.NoError(t, f.messages.UpdateReadDate(ctx, id))

	require.Len(t, dates, 2)
	assert.Equal(t, int64(0), dates[0].Unix())
	assert.True(t, fixedNow.Equal(dates[1]))
}
