package api

import (
	"strings"
	"time"
)

// A Message represents a persisted message.
type Message struct {
	ID        string
	Content   string
	CreatedAt time.Time
}

// CheckContent reports ErrEmptyContent when content is empty or holds only
// whitespace. Content that passes is stored as given, without trimming.
func CheckContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return nil
}
