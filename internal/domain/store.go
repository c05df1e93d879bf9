package domain

import (
	"context"
	"time"
)

// SessionRecord is the durable form of a conversation session.
type SessionRecord struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStore persists conversation sessions. The core consumes this
// interface; implementations live in adapters.
type SessionStore interface {
	Save(ctx context.Context, rec SessionRecord) error
	Load(ctx context.Context, id string) (*SessionRecord, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}
