// Package cache wraps the Dragonfly/Redis client used for per-user counters.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-progress/internal/platform/config"
)

// DefaultKeyPrefix namespaces keys when the configuration leaves it empty.
const DefaultKeyPrefix = "pai-progress"

const pingTimeout = 2 * time.Second

// Cache is a client plus the key namespace this deployment writes under.
type Cache struct {
	client *redis.Client
	prefix string
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return opts, nil
}

// Open connects to the cache and checks that it answers.
func Open(ctx context.Context, cfg config.CacheConfig) (*Cache, error) {
	opts, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	prefix := strings.Trim(cfg.KeyPrefix, ":")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	c := &Cache{client: redis.NewClient(opts), prefix: prefix}

	if err := c.HealthCheck(ctx); err != nil {
		_ = c.client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}
	return c, nil
}

// Client returns the underlying client.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Key joins parts under the namespace, e.g. "pai-progress:weak_topics:42".
func (c *Cache) Key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}

// Close shuts down the client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// HealthCheck pings the cache, giving up after a short timeout.
func (c *Cache) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}
