package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/TP-Master1-GL/TERRABIA/pkg/errors"
)

const keyPrefix = "web:session:"

// SessionStore implements repository.SessionStore using Redis.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a Redis-backed session store. Every write refreshes
// the key TTL; a zero ttl keeps keys forever.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
	}
}

func redisKey(namespace, key string) string {
	return keyPrefix + namespace + ":" + key
}

// Get retrieves a session value from Redis.
func (s *SessionStore) Get(ctx context.Context, namespace, key string) (string, error) {
	v, err := s.client.Get(ctx, redisKey(namespace, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperrors.NotFound("session key", key)
		}
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Set stores a session value with the configured TTL.
func (s *SessionStore) Set(ctx context.Context, namespace, key, value string) error {
	if err := s.client.Set(ctx, redisKey(namespace, key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes all keys with a single DEL.
func (s *SessionStore) Delete(ctx context.Context, namespace string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = redisKey(namespace, k)
	}

	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
