package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaykit/message-api/api"
)

const (
	messagePrefix  = "messages"
	clearedKey     = "messages:cleared"
	defaultMaxSize = 10
	defaultTTL     = time.Hour
)

// errStale reports a message that a later delete has made invisible.
var errStale = errors.New("message deleted since it was read")

// A message represents a message in the cache.
type message struct {
	ID        string `redis:"id"`
	Content   string `redis:"content"`
	CreatedAt int64  `redis:"created_at"` // Unix nanoseconds.
}

func newMessage(msg api.Message) message {
	return message{
		ID:        msg.ID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.UnixNano(),
	}
}

func (m message) APIMessage() *api.Message {
	return &api.Message{
		ID:        m.ID,
		Content:   m.Content,
		CreatedAt: time.Unix(0, m.CreatedAt).UTC(),
	}
}

// Redis provides caching in Redis.
type Redis struct {
	cli     *redis.Client
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// An Option configures the cache.
type Option func(*Redis)

// WithMaxSize sets how many messages the cache holds before it evicts the
// oldest. Values below 1 keep the default of 10.
func WithMaxSize(n int) Option {
	return func(r *Redis) {
		if n > 0 {
			r.maxSize = n
		}
	}
}

// WithTTL sets how long a cached message and a deletion marker live.
// Values below one second keep the default of one hour.
func WithTTL(d time.Duration) Option {
	return func(r *Redis) {
		if d >= time.Second {
			r.ttl = d
		}
	}
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string, opts ...Option) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	r := &Redis{
		cli:     cli,
		maxSize: defaultMaxSize,
		ttl:     defaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

func key(id string) string {
	return fmt.Sprintf("%s:%s", messagePrefix, id)
}

func deletedKey(id string) string {
	return fmt.Sprintf("%s:deleted:%s", messagePrefix, id)
}

// InsertMessage adds the message to Redis with messages:MESSAGE_ID as the
// key and adds the key to a sorted set scored by creation time.
//
// Messages deleted by id, or created before the last DeleteMessages, are not
// stored. Both checks and the write run under WATCH, so a delete that lands
// in between aborts the write.
func (r *Redis) InsertMessage(ctx context.Context, msg api.Message) error {
	m := newMessage(msg)
	k := key(m.ID)
	deleted := deletedKey(m.ID)

	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, deleted).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return errStale
		}
		cleared, err := tx.Get(ctx, clearedKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if m.CreatedAt <= cleared {
			return errStale
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, m)
			pipe.Expire(ctx, k, r.ttl)
			pipe.ZAdd(ctx, messagePrefix, redis.Z{
				Score:  float64(m.CreatedAt),
				Member: k,
			})
			return nil
		})
		return err
	}, deleted, clearedKey)
	if errors.Is(err, errStale) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis insert message: %w", err)
	}

	if err := r.evictOldest(ctx); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// GetMessage retrieves a message from Redis by its ID. It returns
// api.ErrCacheMiss when the message is not cached.
func (r *Redis) GetMessage(ctx context.Context, id string) (*api.Message, error) {
	var m message
	if err := r.cli.HGetAll(ctx, key(id)).Scan(&m); err != nil {
		return nil, fmt.Errorf("redis get message: %w", err)
	}
	if m.ID == "" {
		return nil, api.ErrCacheMiss
	}
	return m.APIMessage(), nil
}

// DeleteMessage removes a message from Redis by its ID and leaves a marker
// that keeps it from being cached again.
func (r *Redis) DeleteMessage(ctx context.Context, id string) error {
	k := key(id)
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, deletedKey(id), 1, r.ttl)
		pipe.Del(ctx, k)
		pipe.ZRem(ctx, messagePrefix, k)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete message: %w", err)
	}
	return nil
}

// DeleteMessages removes every cached message and the sorted set. Messages
// created before the call are not cached afterwards.
func (r *Redis) DeleteMessages(ctx context.Context) error {
	if err := r.cli.Set(ctx, clearedKey, r.now().UnixNano(), 0).Err(); err != nil {
		return fmt.Errorf("redis mark cleared: %w", err)
	}
	keys, err := r.cli.ZRange(ctx, messagePrefix, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("zrange: %w", err)
	}
	keys = append(keys, messagePrefix)
	if err := r.cli.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete messages: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context) error {
	vals, err := r.cli.ZRange(ctx, messagePrefix, 0, int64(-r.maxSize-1)).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}
	if len(vals) == 0 {
		return nil
	}

	_, err = r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range vals {
			pipe.ZRem(ctx, messagePrefix, k)
			pipe.Del(ctx, k)
		}
		return nil
	})
	return err
}
