package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore handles Redis operations for auth nonce replay tracking and
// rate limiting. The SQL store remains the single source of truth for
// ciphertext; nothing message-related lives here.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that needs it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func nonceKey(userID, nonce string) string {
	return fmt.Sprintf("nonce:%s:%s", userID, nonce)
}

func rateLimitKey(userID string) string {
	return fmt.Sprintf("ratelimit:%s", userID)
}

// IsNonceUsed reports whether a signing nonce was already seen for a user.
// Fails open: if Redis is unreachable the signature check alone decides.
func (s *RedisStore) IsNonceUsed(ctx context.Context, userID, nonce string) bool {
	n, err := s.client.Exists(ctx, nonceKey(userID, nonce)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// MarkNonceUsed records a nonce for the replay window.
func (s *RedisStore) MarkNonceUsed(ctx context.Context, userID, nonce string, ttl time.Duration) {
	s.client.Set(ctx, nonceKey(userID, nonce), 1, ttl)
}

// IncrRequestCount bumps and returns the request counter for a user within
// a one-minute window.
func (s *RedisStore) IncrRequestCount(ctx context.Context, userID string) (int64, error) {
	key := rateLimitKey(userID)
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		s.client.Expire(ctx, key, time.Minute)
	}
	return count, nil
}
