package bunstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/relaykit/message-api/api"
)

// A message represents a message in the database.
type message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID        string    `bun:"id,pk,type:uuid"`
	Content   string    `bun:"content,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func (m message) APIMessage() api.Message {
	return api.Message{
		ID:        m.ID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC(),
	}
}
