package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned when a key does not exist
var ErrKeyNotFound = errors.New("key not found")

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with common operations and instrumentation
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{
		redis:  redisClient,
		logger: logger,
	}
}

// GetUnderlying returns the underlying redis.Client for advanced operations
func (c *Client) GetUnderlying() *redis.Client {
	return c.redis
}

// SetBytes sets a binary value with expiration (0 = no expiry)
func (c *Client) SetBytes(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	err := c.redis.Set(ctx, key, value, expiry).Err()
	if err != nil {
		c.logger.Error("redis SET failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	c.logger.Debug("redis SET", "key", key, "size", len(value), "expiry", expiry)
	return nil
}

// GetBytes retrieves a binary value by key
func (c *Client) GetBytes(ctx context.Context, key string) ([]byte, error) {
	val, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.logger.Debug("redis GET key not found", "key", key)
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		c.logger.Error("redis GET failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	c.logger.Debug("redis GET", "key", key, "size", len(val))
	return val, nil
}

// Exists reports whether a key exists
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.redis.Exists(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis EXISTS failed", "key", key, "error", err)
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return n == 1, nil
}

// Copy copies a key to a destination without overwriting an existing
// destination. Returns false when nothing was copied (source missing or
// destination already present).
func (c *Client) Copy(ctx context.Context, src, dst string) (bool, error) {
	n, err := c.redis.Copy(ctx, src, dst, c.redis.Options().DB, false).Result()
	if err != nil {
		c.logger.Error("redis COPY failed", "src", src, "dst", dst, "error", err)
		return false, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	c.logger.Debug("redis COPY", "src", src, "dst", dst, "copied", n == 1)
	return n == 1, nil
}

// Persist removes the TTL from a key
func (c *Client) Persist(ctx context.Context, key string) error {
	if err := c.redis.Persist(ctx, key).Err(); err != nil {
		c.logger.Error("redis PERSIST failed", "key", key, "error", err)
		return fmt.Errorf("failed to persist key %s: %w", key, err)
	}
	c.logger.Debug("redis PERSIST", "key", key)
	return nil
}

// Delete removes a key
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	err := c.redis.Del(ctx, keys...).Err()
	if err != nil {
		c.logger.Error("redis DEL failed", "keys", keys, "error", err)
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	c.logger.Debug("redis DEL", "keys", keys)
	return nil
}

// AddToStream adds a message to a Redis stream
func (c *Client) AddToStream(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	id, err := c.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		c.logger.Error("redis XADD failed", "stream", stream, "error", err)
		return "", fmt.Errorf("failed to add to stream %s: %w", stream, err)
	}
	c.logger.Debug("redis XADD", "stream", stream, "id", id)
	return id, nil
}
