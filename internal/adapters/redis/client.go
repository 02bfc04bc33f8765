package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"tokenmeter/internal/adapters/config"
	"tokenmeter/pkg/errors"
)

// Client wraps Redis client
type Client struct {
	rdb    *redis.Client
	prefix string
}

// NewClient creates a new Redis client
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Addr())
	}

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// Client returns the underlying Redis client
func (c *Client) Client() *redis.Client {
	return c.rdb
}

// KeyPrefix returns the namespace every usage key is stored under
func (c *Client) KeyPrefix() string {
	return c.prefix
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
