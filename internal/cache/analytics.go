// Package cache provides a Redis-backed cache for the ledger analytics.
// Analytics are recomputed from the database on every miss; the cache only
// bounds how often that happens, so every failure degrades to a miss.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/civicwatch/fundwatch/internal/app/domain/transaction"
	"github.com/civicwatch/fundwatch/pkg/logger"
)

// DefaultTTL bounds how stale served analytics can be.
const DefaultTTL = 30 * time.Second

const analyticsKey = "fundwatch:analytics"

// Analytics caches computed ledger analytics in Redis.
type Analytics struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewAnalytics constructs the cache. A zero ttl falls back to DefaultTTL.
func NewAnalytics(client *redis.Client, ttl time.Duration, log *logger.Logger) *Analytics {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.NewDefault("cache")
	}
	return &Analytics{client: client, ttl: ttl, log: log}
}

// GetAnalytics returns the cached analytics and whether the entry was warm.
func (c *Analytics) GetAnalytics(ctx context.Context) (transaction.Analytics, bool) {
	raw, err := c.client.Get(ctx, analyticsKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("analytics cache read failed")
		}
		return transaction.Analytics{}, false
	}

	var out transaction.Analytics
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.WithError(err).Warn("analytics cache entry corrupt")
		return transaction.Analytics{}, false
	}
	return out, true
}

// SetAnalytics stores the analytics with the configured TTL. Failures are
// logged and swallowed.
func (c *Analytics) SetAnalytics(ctx context.Context, a transaction.Analytics) {
	raw, err := json.Marshal(a)
	if err != nil {
		c.log.WithError(err).Warn("analytics cache encode failed")
		return
	}
	if err := c.client.Set(ctx, analyticsKey, raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("analytics cache write failed")
	}
}

// Ping verifies the Redis connection.
func (c *Analytics) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
