package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL is the expiration applied to a Redis-backed session when
// no TTL is configured. It bounds how long an abandoned login attempt's state
// lives in Redis.
const DefaultSessionTTL = 30 * time.Minute

// RedisStore is a Store backed by a single Redis hash per browser session.
// All values of one session live under one key, so Destroy is a single DEL
// and state from concurrent sessions can never bleed together.
type RedisStore struct {
	client    *redis.Client
	sessionID string
	ttl       time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Store bound to the browser session identified by
// sessionID. A zero ttl uses DefaultSessionTTL.
func NewRedisStore(client *redis.Client, sessionID string, ttl time.Duration) (*RedisStore, error) {
	const op = "session.NewRedisStore"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil", op)
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%s: session id is empty", op)
	}
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{
		client:    client,
		sessionID: sessionID,
		ttl:       ttl,
	}, nil
}

func (s *RedisStore) key() string {
	return "aadsso:session:" + s.sessionID
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	const op = "session.RedisStore.Set"
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(), key, value)
	pipe.Expire(ctx, s.key(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "session.RedisStore.Get"
	v, err := s.client.HGet(ctx, s.key(), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return v, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	const op = "session.RedisStore.Delete"
	if err := s.client.HDel(ctx, s.key(), key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *RedisStore) Start(ctx context.Context) error {
	const op = "session.RedisStore.Start"
	// Refresh the TTL so an active session isn't evicted mid-flow.
	if err := s.client.Expire(ctx, s.key(), s.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *RedisStore) Destroy(ctx context.Context) error {
	const op = "session.RedisStore.Destroy"
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
