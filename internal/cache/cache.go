package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"badgeforge/internal/config"
	"badgeforge/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	catalogKey        = "badgeforge:catalog:all"
	catalogMonthlyKey = "badgeforge:catalog:monthly:%d-%02d"
)

// CatalogCache is a read-through cache for badge templates. The catalog is
// effectively static, so a short TTL plus explicit invalidation is enough;
// any Redis failure degrades to a database read.
type CatalogCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCatalogCache connects to Redis and verifies the connection. Returns an
// error rather than a degraded cache so the caller decides whether to run
// without one.
func NewCatalogCache(cfg *config.RedisConfig, logger *zap.Logger) (*CatalogCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Catalog cache connected",
		zap.String("addr", cfg.URL),
		zap.Duration("ttl", cfg.CatalogTTL),
	)

	return &CatalogCache{
		client: client,
		ttl:    cfg.CatalogTTL,
		logger: logger,
	}, nil
}

// GetTemplates returns the cached full catalog, or (nil, false) on miss.
func (c *CatalogCache) GetTemplates(ctx context.Context) ([]*models.BadgeTemplate, bool) {
	return c.get(ctx, catalogKey)
}

// SetTemplates stores the full catalog.
func (c *CatalogCache) SetTemplates(ctx context.Context, templates []*models.BadgeTemplate) {
	c.set(ctx, catalogKey, templates)
}

// GetMonthly returns cached monthly templates for a month/year window.
func (c *CatalogCache) GetMonthly(ctx context.Context, month, year int) ([]*models.BadgeTemplate, bool) {
	return c.get(ctx, fmt.Sprintf(catalogMonthlyKey, year, month))
}

// SetMonthly stores monthly templates for a month/year window.
func (c *CatalogCache) SetMonthly(ctx context.Context, month, year int, templates []*models.BadgeTemplate) {
	c.set(ctx, fmt.Sprintf(catalogMonthlyKey, year, month), templates)
}

// Invalidate drops all cached catalog entries. Called after a reseed.
func (c *CatalogCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "badgeforge:catalog:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan catalog keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete catalog keys: %w", err)
	}
	return nil
}

// Health pings Redis.
func (c *CatalogCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *CatalogCache) Close() error {
	return c.client.Close()
}

func (c *CatalogCache) get(ctx context.Context, key string) ([]*models.BadgeTemplate, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Catalog cache read failed, falling back to database",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, false
	}

	var templates []*models.BadgeTemplate
	if err := json.Unmarshal(data, &templates); err != nil {
		c.logger.Warn("Catalog cache entry corrupt, dropping",
			zap.String("key", key),
			zap.Error(err),
		)
		c.client.Del(ctx, key)
		return nil, false
	}
	return templates, true
}

func (c *CatalogCache) set(ctx context.Context, key string, templates []*models.BadgeTemplate) {
	data, err := json.Marshal(templates)
	if err != nil {
		c.logger.Warn("Failed to marshal catalog for cache", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Catalog cache write failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
