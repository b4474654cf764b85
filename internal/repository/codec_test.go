package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDateWritesGMT(t *testing.T) {
	at := time.Date(2024, 6, 1, 13, 5, 9, 0, time.FixedZone("BST", 3600))
	assert.Equal(t, "2024-06-01 12:05:09 GMT", FormatDate(at))
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-06-01 12:05:09 GMT", time.Date(2024, 6, 1, 12, 5, 9, 0, time.UTC)},
		{"2024-06-01 13:05:09 BST", time.Date(2024, 6, 1, 12, 5, 9, 0, time.UTC)},
		{"2024-01-15 10:00:00 PST", time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)},
		{"1970-01-01 00:00:00 GMT", time.Unix(0, 0).UTC()},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseDateRejectsOtherFormats(t *testing.T) {
	for _, in := range []string{"", "2024-06-01T12:05:09Z", "01/06/2024 12:05", "2024-06-01 12:05:09"} {
		_, err := ParseDate(in)
		assert.Error(t, err, in)
	}
}

func TestFormatDateRoundTrip(t *testing.T) {
	at := time.Date(2023, 11, 30, 23, 59, 59, 0, time.UTC)
	got, err := ParseDate(FormatDate(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(got))
}

func TestEncodeSetUsesSentinel(t *testing.T) {
	assert.Equal(t, []string{"!"}, EncodeSet(nil))
	assert.Equal(t, []string{"!"}, EncodeSet([]string{}))
	assert.Equal(t, []string{"a", "b"}, EncodeSet([]string{"a", "b"}))
}

func TestDecodeSet(t *testing.T) {
	ids, ok := DecodeSet([]any{"!"})
	assert.True(t, ok)
	assert.Nil(t, ids)

	ids, ok = DecodeSet(nil)
	assert.True(t, ok)
	assert.Nil(t, ids)

	ids, ok = DecodeSet([]any{"u1", "u2"})
	assert.True(t, ok)
	assert.Equal(t, []string{"u1", "u2"}, ids)

	_, ok = DecodeSet([]any{"u1", 7.0})
	assert.False(t, ok)

	_, ok = DecodeSet("u1")
	assert.False(t, ok)
}

func TestSetMutators(t *testing.T) {
	ids, changed := addID("b")([]string{"a"})
	assert.True(t, changed)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, changed = addID("a")([]string{"a"})
	assert.False(t, changed)
	assert.Equal(t, []string{"a"}, ids)

	ids, changed = removeID("a")([]string{"a", "b"})
	assert.True(t, changed)
	assert.Equal(t, []string{"b"}, ids)

	_, changed = removeID("z")([]string{"a"})
	assert.False(t, changed)
}

func TestBatchErrorJoinsByNewline(t *testing.T) {
	err := &BatchError{Errors: []error{notFound("user", "u1"), notFound("user", "u2")}}
	assert.Equal(t,
		"no user exists with the identifier u1\nno user exists with the identifier u2",
		err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestJoinErrors(t *testing.T) {
	assert.NoError(t, joinErrors([]error{nil, nil}))

	single := errors.New("boom")
	assert.Equal(t, single, joinErrors([]error{nil, single}))

	var batch *BatchError
	require.ErrorAs(t, joinErrors([]error{single, single}), &batch)
	assert.Len(t, batch.Errors, 2)
}
