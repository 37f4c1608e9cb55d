package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"monat/internal/pkg/logger"
	"monat/internal/pkg/redis"
	"monat/internal/service/inventory/domain"
)

const stockCacheTTL = 30 * time.Second

// RedisStockCache 把库存快照缓存在 Redis，供 CheckStock 读路径使用。
// 缓存只是性能优化：任何失败都降级为直查数据库，绝不影响正确性。
type RedisStockCache struct {
	client *redis.Client
}

func NewRedisStockCache(client *redis.Client) *RedisStockCache {
	return &RedisStockCache{client: client}
}

func cacheKey(productID string) string {
	return fmt.Sprintf("inventory:stock:%s", productID)
}

func (c *RedisStockCache) Get(ctx context.Context, productID string) (*domain.Inventory, bool) {
	raw, err := c.client.GetClient().Get(ctx, cacheKey(productID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Ctx(ctx).Warn().Err(err).Str("product_id", productID).Msg("stock cache read failed")
		}
		return nil, false
	}
	var inv domain.Inventory
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, false
	}
	return &inv, true
}

func (c *RedisStockCache) Set(ctx context.Context, inv *domain.Inventory) {
	raw, err := json.Marshal(inv)
	if err != nil {
		return
	}
	if err := c.client.GetClient().Set(ctx, cacheKey(inv.ProductID), raw, stockCacheTTL).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("product_id", inv.ProductID).Msg("stock cache write failed")
	}
}

func (c *RedisStockCache) Invalidate(ctx context.Context, productID string) {
	if err := c.client.GetClient().Del(ctx, cacheKey(productID)).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("product_id", productID).Msg("stock cache invalidate failed")
	}
}
