package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/irfndi/distance-pairs/internal/logging"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/redis/go-redis/v9"
)

// RankingCacheEntry is the stored form of a ranked pair list.
type RankingCacheEntry struct {
	Pairs     []models.Pair `json:"pairs"`
	CachedAt  time.Time     `json:"cached_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// RankingCacheStats tracks cache performance metrics
type RankingCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

// HitRate returns hits as a percentage of lookups.
func (s RankingCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// RedisRankingCache stores pair rankings keyed by a fingerprint of the
// training window, the distance and top.
type RedisRankingCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *logging.StandardLogger

	mu    sync.RWMutex
	stats RankingCacheStats
}

// NewRedisRankingCache creates a cache whose entries expire after ttl. A ttl of zero keeps entries until evicted.
func NewRedisRankingCache(redisClient *redis.Client, ttl time.Duration, logger *logging.StandardLogger) *RedisRankingCache {
	if logger == nil {
		logger = logging.NewStandardLoggerFrom(nil)
	}
	return &RedisRankingCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: "pair_ranking:",
		logger: logger,
	}
}

// GetRanking returns the cached ranking for key. A miss is (nil, false, nil).
func (c *RedisRankingCache) GetRanking(ctx context.Context, key string) ([]models.Pair, bool, error) {
	start := time.Now()
	cacheKey := c.prefix + key

	data, err := c.redis.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		c.record(func(s *RankingCacheStats) { s.Misses++ })
		c.logger.LogCacheOperation("get", cacheKey, false, time.Since(start).Milliseconds())
		return nil, false, nil
	}
	if err != nil {
		c.record(func(s *RankingCacheStats) { s.Misses++; s.Errors++ })
		return nil, false, fmt.Errorf("failed to get ranking %s: %w", key, err)
	}

	var entry RankingCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.record(func(s *RankingCacheStats) { s.Misses++; s.Errors++ })
		// Corrupt entries are dropped so the next run repopulates them.
		_ = c.redis.Del(ctx, cacheKey).Err()
		return nil, false, fmt.Errorf("failed to decode ranking %s: %w", key, err)
	}

	c.record(func(s *RankingCacheStats) { s.Hits++ })
	c.logger.LogCacheOperation("get", cacheKey, true, time.Since(start).Milliseconds())
	return entry.Pairs, true, nil
}

// SetRanking stores pairs under key.
func (c *RedisRankingCache) SetRanking(ctx context.Context, key string, pairs []models.Pair) error {
	start := time.Now()
	cacheKey := c.prefix + key

	now := time.Now().UTC()
	entry := RankingCacheEntry{Pairs: pairs, CachedAt: now}
	if c.ttl > 0 {
		entry.ExpiresAt = now.Add(c.ttl)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode ranking %s: %w", key, err)
	}

	if err := c.redis.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
		c.record(func(s *RankingCacheStats) { s.Errors++ })
		return fmt.Errorf("failed to set ranking %s: %w", key, err)
	}

	c.record(func(s *RankingCacheStats) { s.Sets++ })
	c.logger.LogCacheOperation("set", cacheKey, false, time.Since(start).Milliseconds())
	return nil
}

func (c *RedisRankingCache) record(fn func(*RankingCacheStats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// GetStats returns current cache statistics
func (c *RedisRankingCache) GetStats() RankingCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// LogStats logs current cache performance statistics
func (c *RedisRankingCache) LogStats() {
	stats := c.GetStats()
	c.logger.WithComponent("ranking_cache").WithFields(map[string]interface{}{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"sets":     stats.Sets,
		"errors":   stats.Errors,
		"hit_rate": stats.HitRate(),
	}).Info("Ranking cache stats")
}

// Keys returns the fingerprints of every cached ranking.
func (c *RedisRankingCache) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(c.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("error scanning cache keys: %w", err)
	}
	return keys, nil
}

// Clear removes all cached rankings and returns how many were deleted.
func (c *RedisRankingCache) Clear(ctx context.Context) (int, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.redis.Del(ctx, full...).Err(); err != nil {
		return 0, fmt.Errorf("error clearing cache: %w", err)
	}
	c.logger.WithComponent("ranking_cache").WithField("entries", len(keys)).Info("Cleared ranking cache")
	return len(keys), nil
}
