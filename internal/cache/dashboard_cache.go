package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guregu/null/v6"
	"github.com/redis/go-redis/v9"

	"github.com/irfndi/covid-pulse-go/internal/logging"
	"github.com/irfndi/covid-pulse-go/internal/models"
)

const (
	viewPrefix   = "dashboard:view:"
	countriesKey = "dashboard:countries"
)

// CacheStats tracks cache performance metrics
type CacheStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Sets          int64 `json:"sets"`
	Invalidations int64 `json:"invalidations"`
}

// HitRate returns hits over lookups, or zero before the first lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// DashboardCache keeps rendered dashboard views and the country list in
// Redis. Entries expire after the configured TTL and are dropped wholesale
// after every ingest run.
type DashboardCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.StandardLogger

	mu    sync.RWMutex
	stats CacheStats
}

// NewDashboardCache creates a new Redis-backed dashboard cache.
func NewDashboardCache(redisClient *redis.Client, ttl time.Duration, logger *logging.StandardLogger) *DashboardCache {
	return &DashboardCache{redis: redisClient, ttl: ttl, logger: logger}
}

// ViewKey identifies a view by country, horizon and the doubling rate
// override, if any.
func ViewKey(country string, horizon int, doublingRate null.Float) string {
	rate := "default"
	if doublingRate.Valid {
		rate = strconv.FormatFloat(doublingRate.Float64, 'f', -1, 64)
	}
	return fmt.Sprintf("%s%s:%d:%s", viewPrefix, strings.ToLower(country), horizon, rate)
}

// GetView returns the cached view stored under key.
func (c *DashboardCache) GetView(ctx context.Context, key string) (*models.DashboardView, bool) {
	var view models.DashboardView
	if !c.get(ctx, key, &view) {
		return nil, false
	}
	return &view, true
}

// SetView caches view under key.
func (c *DashboardCache) SetView(ctx context.Context, key string, view *models.DashboardView) {
	c.set(ctx, key, view)
}

// GetCountries returns the cached country list.
func (c *DashboardCache) GetCountries(ctx context.Context) (models.CountryList, bool) {
	var list models.CountryList
	if !c.get(ctx, countriesKey, &list) {
		return nil, false
	}
	return list, true
}

// SetCountries caches the country list.
func (c *DashboardCache) SetCountries(ctx context.Context, list models.CountryList) {
	c.set(ctx, countriesKey, list)
}

// Invalidate removes every view and the country list. It returns the number
// of keys removed.
func (c *DashboardCache) Invalidate(ctx context.Context) (int, error) {
	start := time.Now()
	keys := []string{countriesKey}

	iter := c.redis.Scan(ctx, 0, viewPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan dashboard cache: %w", err)
	}

	removed, err := c.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate dashboard cache: %w", err)
	}

	c.mu.Lock()
	c.stats.Invalidations++
	c.mu.Unlock()

	c.logger.LogCacheOperation("invalidate", viewPrefix+"*", false, time.Since(start).Milliseconds())
	c.logger.LogBusinessEvent("dashboards_invalidated", map[string]interface{}{"keys_removed": removed})
	return int(removed), nil
}

// GetStats returns current cache statistics
func (c *DashboardCache) GetStats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *DashboardCache) get(ctx context.Context, key string, dest interface{}) bool {
	start := time.Now()
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		err = json.Unmarshal(data, dest)
	}

	hit := err == nil
	c.mu.Lock()
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()

	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.WithComponent("dashboard_cache").Warn("Cache read failed", "key", key, "error", err)
	}
	c.logger.LogCacheOperation("get", key, hit, time.Since(start).Milliseconds())
	return hit
}

func (c *DashboardCache) set(ctx context.Context, key string, value interface{}) {
	start := time.Now()
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WithComponent("dashboard_cache").Warn("Cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithComponent("dashboard_cache").Warn("Cache write failed", "key", key, "error", err)
		return
	}

	c.mu.Lock()
	c.stats.Sets++
	c.mu.Unlock()
	c.logger.LogCacheOperation("set", key, false, time.Since(start).Milliseconds())
}
