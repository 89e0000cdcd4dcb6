package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 30, 0, 123456000, time.UTC)
	token, err := EncodeCursor(NewCursor(42, at))
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	gotAt, gotID, err := cursor.Position()
	require.NoError(t, err)
	assert.True(t, at.Equal(gotAt))
	assert.Equal(t, int64(42), gotID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"!!!", "bm90LWpzb24", "eyJpZCI6ImFiYyJ9"} {
		_, err := DecodeCursor(token)
		assert.ErrorIs(t, err, ErrInvalidCursor, token)
	}
}

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []int{5, 4, 3}
	page, info := BuildCursorPageInfo(rows, 2, func(v int) string { return string(rune('a' + v)) })
	assert.Equal(t, []int{5, 4}, page)
	assert.True(t, info.HasMore)
	assert.Equal(t, "f", info.PreviousPageToken)
	assert.Equal(t, "e", info.NextPageToken)

	page, info = BuildCursorPageInfo(rows[:1], 2, func(v int) string { return "x" })
	assert.Len(t, page, 1)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}
