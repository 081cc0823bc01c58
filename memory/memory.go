// Package memory provides a message store held in process memory. It is
// meant for local runs and tests; nothing survives a restart.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/message-api/api"
)

// Store keeps messages in insertion order behind a mutex.
type Store struct {
	mu   sync.RWMutex
	msgs []api.Message

	capacity int
	now      func() time.Time
}

// An Option configures a Store.
type Option func(*Store)

// WithCapacity bounds the store to n messages. Inserting into a full store
// drops the oldest message. A capacity of 1 keeps only the latest message.
// Zero or less means unbounded.
func WithCapacity(n int) Option {
	return func(s *Store) {
		s.capacity = n
	}
}

// WithClock sets the time source used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InsertMessage stores the message content with a fresh id and the current
// UTC time.
func (s *Store) InsertMessage(_ context.Context, msg api.Message) (api.Message, error) {
	if err := api.CheckContent(msg.Content); err != nil {
		return api.Message{}, err
	}
	m := api.Message{
		ID:        uuid.NewString(),
		Content:   msg.Content,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	if s.capacity > 0 && len(s.msgs) > s.capacity {
		s.msgs = slices.Delete(s.msgs, 0, len(s.msgs)-s.capacity)
	}
	return m, nil
}

// LatestMessage returns the message with the greatest creation time.
func (s *Store) LatestMessage(_ context.Context) (api.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.msgs) == 0 {
		return api.Message{}, api.ErrNotFound
	}
	return s.sorted()[0], nil
}

// ListMessages returns all messages sorted by creation time in descending
// order. Messages with equal timestamps come back newest insert first.
func (s *Store) ListMessages(_ context.Context) ([]api.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(), nil
}

// GetMessage returns the message with the given id.
func (s *Store) GetMessage(_ context.Context, id string) (api.Message, error) {
	id, err := api.ParseID(id)
	if err != nil {
		return api.Message{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 {
		return api.Message{}, api.ErrNotFound
	}
	return s.msgs[i], nil
}

// DeleteMessage removes the message with the given id.
func (s *Store) DeleteMessage(_ context.Context, id string) error {
	id, err := api.ParseID(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return api.ErrNotFound
	}
	s.msgs = slices.Delete(s.msgs, i, i+1)
	return nil
}

// DeleteMessages removes every message.
func (s *Store) DeleteMessages(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	return nil
}

// CountMessages returns the number of stored messages.
func (s *Store) CountMessages(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs), nil
}

// sorted returns a copy of the messages, newest first. Callers hold mu.
func (s *Store) sorted() []api.Message {
	out := make([]api.Message, len(s.msgs))
	for i, m := range s.msgs {
		out[len(s.msgs)-1-i] = m
	}
	slices.SortStableFunc(out, func(a, b api.Message) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// index returns the position of the message with the given id, or -1.
// Callers hold mu.
func (s *Store) index(id string) int {
	return slices.IndexFunc(s.msgs, func(m api.Message) bool {
		return m.ID == id
	})
}
