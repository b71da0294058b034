package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a test Redis instance using miniredis
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		client.Close()
		s.Close()
	})
	return client, s
}

var rankedPairs = []models.Pair{
	{A: "KO", B: "PEP", Distance: 0.12, Rank: 1},
	{A: "XOM", B: "CVX", Distance: 0.3, Rank: 2},
}

func TestRedisRankingCache_SetAndGet(t *testing.T) {
	client, s := setupTestRedis(t)
	cache := NewRedisRankingCache(client, time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, cache.SetRanking(ctx, "abc", rankedPairs))
	assert.True(t, s.Exists("pair_ranking:abc"))
	assert.Equal(t, time.Hour, s.TTL("pair_ranking:abc"))

	got, ok, err := cache.GetRanking(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, rankedPairs, got)

	stats := cache.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 100.0, stats.HitRate())
}

func TestRedisRankingCache_MissAndExpiry(t *testing.T) {
	client, s := setupTestRedis(t)
	cache := NewRedisRankingCache(client, time.Minute, nil)
	ctx := context.Background()

	got, ok, err := cache.GetRanking(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)

	require.NoError(t, cache.SetRanking(ctx, "short", rankedPairs))
	s.FastForward(2 * time.Minute)
	_, ok, err = cache.GetRanking(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), cache.GetStats().Misses)
}

func TestRedisRankingCache_CorruptEntry(t *testing.T) {
	client, s := setupTestRedis(t)
	cache := NewRedisRankingCache(client, 0, nil)
	require.NoError(t, s.Set("pair_ranking:bad", "{not json"))

	_, ok, err := cache.GetRanking(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, s.Exists("pair_ranking:bad"))
	assert.Equal(t, int64(1), cache.GetStats().Errors)
}

func TestRedisRankingCache_ConnectionError(t *testing.T) {
	client, s := setupTestRedis(t)
	cache := NewRedisRankingCache(client, time.Minute, nil)
	s.Close()

	_, ok, err := cache.GetRanking(context.Background(), "abc")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, cache.SetRanking(context.Background(), "abc", rankedPairs))
	assert.Equal(t, int64(2), cache.GetStats().Errors)
}

func TestRedisRankingCache_KeysAndClear(t *testing.T) {
	client, s := setupTestRedis(t)
	cache := NewRedisRankingCache(client, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, s.Set("unrelated", "x"))
	require.NoError(t, cache.SetRanking(ctx, "one", rankedPairs))
	require.NoError(t, cache.SetRanking(ctx, "two", rankedPairs[:1]))

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, keys)

	n, err := cache.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, s.Exists("unrelated"))

	n, err = cache.Clear(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.NotPanics(t, cache.LogStats)
}
