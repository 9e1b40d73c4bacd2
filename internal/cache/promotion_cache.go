package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
)

const activeSetKey = "promotions:active"

// PromotionCache is a Redis read-through cache for the current promotion set.
// Resolution reads hit this cache first; admin writes invalidate it. A broken
// Redis never fails a request, the caller just falls through to PostgreSQL.
type PromotionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewPromotionCache creates a promotion cache with the given TTL.
func NewPromotionCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *PromotionCache {
	return &PromotionCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// GetActiveSet returns the cached promotion set, or (nil, false) on miss or
// Redis failure.
func (c *PromotionCache) GetActiveSet(ctx context.Context) ([]domain.Promotion, bool) {
	data, err := c.client.Get(ctx, activeSetKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("promotion cache read failed", slog.String("error", err.Error()))
		}
		return nil, false
	}

	var promotions []domain.Promotion
	if err := json.Unmarshal(data, &promotions); err != nil {
		c.logger.Warn("promotion cache payload corrupt", slog.String("error", err.Error()))
		return nil, false
	}

	return promotions, true
}

// SetActiveSet stores the promotion set. Failures are logged and swallowed.
func (c *PromotionCache) SetActiveSet(ctx context.Context, promotions []domain.Promotion) {
	data, err := json.Marshal(promotions)
	if err != nil {
		c.logger.Warn("promotion cache marshal failed", slog.String("error", err.Error()))
		return
	}

	if err := c.client.Set(ctx, activeSetKey, data, c.ttl).Err(); err != nil {
		c.logger.Warn("promotion cache write failed", slog.String("error", err.Error()))
	}
}

// Invalidate drops the cached set after an admin write.
func (c *PromotionCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, activeSetKey).Err(); err != nil {
		c.logger.Warn("promotion cache invalidation failed", slog.String("error", err.Error()))
	}
}

// Ping verifies the Redis connection for readiness checks.
func (c *PromotionCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
