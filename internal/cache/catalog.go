package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flicky/storefront/internal/model"
)

const (
	productsKey   = "catalog:products"
	categoriesKey = "catalog:categories"
)

type CatalogSource interface {
	ListProducts(ctx context.Context) ([]model.Product, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
}

// CatalogCache is a read-through Redis cache in front of a CatalogSource.
// Redis failures fall back to the source. Stock checks never read from here.
type CatalogCache struct {
	source CatalogSource
	redis  *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewCatalogCache(source CatalogSource, client *redis.Client, ttl time.Duration, log *slog.Logger) *CatalogCache {
	return &CatalogCache{source: source, redis: client, ttl: ttl, log: log}
}

func (c *CatalogCache) ListProducts(ctx context.Context) ([]model.Product, error) {
	return readThrough(ctx, c, productsKey, c.source.ListProducts)
}

func (c *CatalogCache) ListCategories(ctx context.Context) ([]model.Category, error) {
	return readThrough(ctx, c, categoriesKey, c.source.ListCategories)
}

// Invalidate drops both cached lists; call it after catalog writes.
func (c *CatalogCache) Invalidate(ctx context.Context) error {
	if err := c.redis.Del(ctx, productsKey, categoriesKey).Err(); err != nil {
		return fmt.Errorf("invalidate catalog cache: %w", err)
	}
	return nil
}

func readThrough[T any](ctx context.Context, c *CatalogCache, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []T
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
		c.log.Warn("unmarshal cached catalog, continuing with store", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("redis error, continuing with store", "key", key, "error", err)
	}

	items, err := load(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(items); err != nil {
		c.log.Warn("marshal catalog for cache", "key", key, "error", err)
	} else if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("write catalog cache", "key", key, "error", err)
	}
	return items, nil
}
