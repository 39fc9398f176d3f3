package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const liveFeedKey = "telemetry:map:live"

// Cache is a small Redis wrapper for the live map feed, the one endpoint
// polled every few seconds by every map client. A nil *Cache is valid and
// degrades every operation to a no-op, so Redis stays optional.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis using a redis:// URL.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Close releases the client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// GetLiveFeed returns the cached live feed payload, if any.
func (c *Cache) GetLiveFeed(ctx context.Context) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, liveFeedKey).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetLiveFeed stores the live feed payload with the configured TTL.
func (c *Cache) SetLiveFeed(ctx context.Context, data []byte) {
	if c == nil {
		return
	}
	c.client.Set(ctx, liveFeedKey, data, c.ttl)
}

// InvalidateLiveFeed drops the cached payload, used after a successful
// ingest so the next poll sees the new reading.
func (c *Cache) InvalidateLiveFeed(ctx context.Context) {
	if c == nil {
		return
	}
	c.client.Del(ctx, liveFeedKey)
}
