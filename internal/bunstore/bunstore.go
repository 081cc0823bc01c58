// Package bunstore implements the message store on top of a bun database.
// The postgres and sqlite packages open the connection and pick the dialect;
// everything after that is shared.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/relaykit/message-api/api"
)

// Store provides storage in a SQL database through bun.
type Store struct {
	bun *bun.DB
	now func() time.Time
}

// New returns a store backed by db.
func New(db *bun.DB) *Store {
	return &Store{
		bun: db,
		now: time.Now,
	}
}

// DB returns the underlying bun database.
func (s *Store) DB() *bun.DB {
	return s.bun
}

// Close closes the database.
func (s *Store) Close() error {
	return s.bun.Close()
}

// Migrate creates the messages table and its index if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.bun.NewCreateTable().
		Model((*message)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if _, err := s.bun.NewCreateIndex().
		Model((*message)(nil)).
		Index("messages_created_at_idx").
		Column("created_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// InsertMessage inserts a message into the database. The returned message
// holds the generated id and creation time.
func (s *Store) InsertMessage(ctx context.Context, msg api.Message) (api.Message, error) {
	if err := api.CheckContent(msg.Content); err != nil {
		return api.Message{}, err
	}
	m := &message{
		ID:        uuid.NewString(),
		Content:   msg.Content,
		// Both SQL backends keep microseconds.
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if _, err := s.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return api.Message{}, fmt.Errorf("insert: %w", err)
	}
	return m.APIMessage(), nil
}

// LatestMessage returns the most recently created message.
func (s *Store) LatestMessage(ctx context.Context) (api.Message, error) {
	var m message
	err := s.bun.NewSelect().
		Model(&m).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Message{}, api.ErrNotFound
	}
	if err != nil {
		return api.Message{}, fmt.Errorf("select latest: %w", err)
	}
	return m.APIMessage(), nil
}

// ListMessages returns all messages in the database, newest first.
func (s *Store) ListMessages(ctx context.Context) ([]api.Message, error) {
	var msgs []message
	if err := s.bun.NewSelect().
		Model(&msgs).
		Order("created_at DESC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	out := make([]api.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.APIMessage()
	}
	return out, nil
}

// GetMessage returns the message with the given id.
func (s *Store) GetMessage(ctx context.Context, id string) (api.Message, error) {
	id, err := api.ParseID(id)
	if err != nil {
		return api.Message{}, err
	}

	var m message
	err = s.bun.NewSelect().
		Model(&m).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Message{}, api.ErrNotFound
	}
	if err != nil {
		return api.Message{}, fmt.Errorf("select %s: %w", id, err)
	}
	return m.APIMessage(), nil
}

// DeleteMessage deletes the message with the given id in one statement.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	id, err := api.ParseID(id)
	if err != nil {
		return err
	}

	res, err := s.bun.NewDelete().
		Model((*message)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n == 0 {
		return api.ErrNotFound
	}
	return nil
}

// DeleteMessages deletes every message.
func (s *Store) DeleteMessages(ctx context.Context) error {
	// bun refuses a DELETE without a WHERE clause.
	if _, err := s.bun.NewDelete().
		Model((*message)(nil)).
		Where("1 = 1").
		Exec(ctx); err != nil {
		return fmt.Errorf("delete all: %w", err)
	}
	return nil
}

// CountMessages returns the number of stored messages.
func (s *Store) CountMessages(ctx context.Context) (int, error) {
	n, err := s.bun.NewSelect().Model((*message)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
