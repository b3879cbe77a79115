package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces session keys in Redis.
const DefaultKeyPrefix = "guacauth:session:"

// DefaultTTL is the Redis session lifetime when none is configured.
const DefaultTTL = 8 * time.Hour

// RedisStore is a Store backed by Redis, letting several gateway replicas
// share flow state. Each Set refreshes the key's TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore constructs a Redis-backed store. An empty prefix uses
// DefaultKeyPrefix and a non-positive ttl uses DefaultTTL.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Get loads and decodes the session stored under id.
func (s *RedisStore) Get(ctx context.Context, id string) (*AuthenticationSession, error) {
	if id == "" {
		return nil, ErrNoSessionID
	}

	payload, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess AuthenticationSession
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// Set stores the encoded session with the store TTL.
func (s *RedisStore) Set(ctx context.Context, id string, sess *AuthenticationSession) error {
	if id == "" {
		return ErrNoSessionID
	}
	if sess == nil {
		return s.Clear(ctx, id)
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Clear removes the session key.
func (s *RedisStore) Clear(ctx context.Context, id string) error {
	if id == "" {
		return ErrNoSessionID
	}
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
