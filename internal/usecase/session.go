package usecase

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"forge-ai/internal/domain"
)

// Session holds the live message history for one conversation.
type Session struct {
	mu        sync.RWMutex
	ID        string           `json:"id"`
	Msgs      []domain.Message `json:"messages"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewSession creates a new empty session with a generated ULID.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:        NewULID(now),
		Msgs:      make([]domain.Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Shared entropy keeps IDs unique even when several are minted within
// the same timestamp. ulid.Monotonic readers are not safe concurrently.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewULID generates a ULID for the given time.
func NewULID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// AddMessage appends a message, stamping ID and timestamp when unset.
func (s *Session) AddMessage(msg domain.Message) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.ID == "" {
		msg.ID = NewULID(msg.Timestamp)
	}
	s.Msgs = append(s.Msgs, msg)
	s.UpdatedAt = time.Now()
	return msg
}

// Messages returns a copy of the message history.
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]domain.Message, len(s.Msgs))
	copy(cp, s.Msgs)
	return cp
}

// MessageCount returns the number of messages without copying.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Msgs)
}

// ReplaceMessages swaps the whole history, used after compaction. The
// compacted region is gone from live state permanently; durable history is
// the session store's concern.
func (s *Session) ReplaceMessages(msgs []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Msgs = append(s.Msgs[:0], msgs...)
	s.UpdatedAt = time.Now()
}

// Record returns the durable form of the session for persistence.
func (s *Session) Record() domain.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]domain.Message, len(s.Msgs))
	copy(msgs, s.Msgs)
	return domain.SessionRecord{
		ID:        s.ID,
		Messages:  msgs,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// SessionFromRecord rebuilds a live session from its durable form.
func SessionFromRecord(rec *domain.SessionRecord) *Session {
	msgs := make([]domain.Message, len(rec.Messages))
	copy(msgs, rec.Messages)
	return &Session{
		ID:        rec.ID,
		Msgs:      msgs,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}
