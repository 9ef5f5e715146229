package collectors

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cascade-trader/config"
	"cascade-trader/internal/logging"
)

// ResponseCache is an optional Redis-backed cache for provider
// responses. It keeps repeated multi-symbol sweeps from hammering the
// same endpoints; a nil cache or a dead Redis simply means every call
// goes to the provider.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewResponseCache connects to Redis. Returns nil when caching is
// disabled in config.
func NewResponseCache(cfg config.RedisConfig) *ResponseCache {
	if !cfg.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ttl := time.Duration(cfg.TTL) * time.Second
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &ResponseCache{client: client, ttl: ttl, log: logging.Component("cache")}
}

func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug().Err(err).Msg("cache get failed")
		}
		return nil, false
	}
	return raw, true
}

func (c *ResponseCache) Set(ctx context.Context, key string, value []byte) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Msg("cache set failed")
	}
}

func (c *ResponseCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
