// Package cache stores vendor search results in Redis so re-running a
// session does not re-spend provider quota. A nil *SearchCache is valid and
// misses everything.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/charlesh97/bomhelper/internal/vendor"
)

const keyPrefix = "bomhelper:search"

// SearchCache caches ranked-input candidate lists keyed by the search
// keyword and the filter flags it was fetched with.
type SearchCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func New(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *SearchCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SearchCache{rdb: rdb, ttl: ttl, log: logger}
}

func cacheKey(keyword string, inStockOnly, activeOnly bool) string {
	return fmt.Sprintf("%s:%s|stock=%t|active=%t",
		keyPrefix, strings.ToLower(strings.TrimSpace(keyword)), inStockOnly, activeOnly)
}

// Get returns the cached result list for a keyword+filter combination.
func (c *SearchCache) Get(ctx context.Context, keyword string, inStockOnly, activeOnly bool) ([]vendor.Part, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, cacheKey(keyword, inStockOnly, activeOnly)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn("Search cache read failed", zap.Error(err))
		return nil, false
	}
	var parts []vendor.Part
	if err := json.Unmarshal(raw, &parts); err != nil {
		c.log.Warn("Search cache entry is corrupt, ignoring", zap.Error(err))
		return nil, false
	}
	return parts, true
}

// Put stores a result list. Failures are logged and ignored; the cache is an
// optimization, never a correctness dependency.
func (c *SearchCache) Put(ctx context.Context, keyword string, inStockOnly, activeOnly bool, parts []vendor.Part) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		c.log.Warn("Search cache encode failed", zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(keyword, inStockOnly, activeOnly), raw, c.ttl).Err(); err != nil {
		c.log.Warn("Search cache write failed", zap.Error(err))
	}
}
