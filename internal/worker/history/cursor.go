package history

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Cursor marks the last run of a page; the next page starts strictly after it
type Cursor struct {
	FinishedAt time.Time
	ID         int64
}

// DecodeCursor parses an opaque page cursor. An empty string means the first page.
func DecodeCursor(cursorStr string) (*Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var finishedAt, id int64
	if _, err := fmt.Sscanf(parts[0], "%d", &finishedAt); err != nil {
		return nil, fmt.Errorf("invalid finished_at in cursor: %w", err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &id); err != nil {
		return nil, fmt.Errorf("invalid id in cursor: %w", err)
	}

	return &Cursor{
		FinishedAt: time.Unix(0, finishedAt).UTC(),
		ID:         id,
	}, nil
}

// EncodeCursor renders c as an opaque URL-safe string
func EncodeCursor(c *Cursor) string {
	cs := fmt.Sprintf("%d|%d", c.FinishedAt.UnixNano(), c.ID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
