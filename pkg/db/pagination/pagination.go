package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Cursor is a keyset position over (created_at DESC, id DESC).
type Cursor struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

type PageInfo struct {
	NextPageToken     string `json:"next_page_token,omitempty"`
	PreviousPageToken string `json:"previous_page_token,omitempty"`
	HasMore           bool   `json:"has_more"`
}

func NewCursor(id int64, createdAt time.Time) Cursor {
	return Cursor{
		ID:        strconv.FormatInt(id, 10),
		CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
	}
}

// Position returns the typed keyset values.
func (c Cursor) Position() (time.Time, int64, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, c.CreatedAt)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(c.ID, 10, 64)
	if err != nil || id <= 0 {
		return time.Time{}, 0, ErrInvalidCursor
	}
	return createdAt.UTC(), id, nil
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, ErrInvalidCursor
	}
	if _, _, err := cursor.Position(); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildCursorPageInfo trims a page fetched with limit+1 rows and reports
// whether more rows follow.
func BuildCursorPageInfo[T any](data []T, limit int, extractCursor func(T) string) ([]T, PageInfo) {
	if len(data) == 0 {
		return data, PageInfo{}
	}

	hasMore := false
	if len(data) > limit {
		hasMore = true
		data = data[:limit]
	}

	info := PageInfo{
		HasMore:           hasMore,
		PreviousPageToken: extractCursor(data[0]),
	}
	if hasMore {
		info.NextPageToken = extractCursor(data[len(data)-1])
	}
	return data, info
}
