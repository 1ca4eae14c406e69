package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/posture-check/internal/session"
)

// statusTTL keeps a finished session readable for a while after it ends.
const statusTTL = 10 * time.Minute

// Cache is the key/value store holding session status snapshots. Get must
// return redis.Nil for a missing key.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache backs Cache with a go-redis client.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func statusKey(sessionID string) string {
	return fmt.Sprintf("posture:session:%s", sessionID)
}

func encodeStatus(status session.Status) (string, error) {
	raw, err := json.Marshal(status)
	if err != nil {
		return "", fmt.Errorf("encode status: %w", err)
	}
	return string(raw), nil
}

func decodeStatus(raw string) (*session.Status, error) {
	var status session.Status
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}
