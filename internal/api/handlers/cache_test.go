package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/irfndi/distance-pairs/internal/cache"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCacheRouter(t *testing.T) (*gin.Engine, *cache.RedisRankingCache) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rankingCache := cache.NewRedisRankingCache(client, time.Hour, nil)
	h := NewCacheHandler(rankingCache)
	router := gin.New()
	router.GET("/admin/cache/stats", h.GetCacheStats)
	router.DELETE("/admin/cache/rankings", h.ClearRankings)
	return router, rankingCache
}

func TestCacheHandler_StatsAndClear(t *testing.T) {
	router, rankingCache := newCacheRouter(t)
	ctx := context.Background()
	pairs := []models.Pair{{A: "KO", B: "PEP", Rank: 1}}
	require.NoError(t, rankingCache.SetRanking(ctx, "k1", pairs))
	require.NoError(t, rankingCache.SetRanking(ctx, "k2", pairs))
	_, ok, err := rankingCache.GetRanking(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/cache/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["entries"])
	assert.Equal(t, float64(100), data["hit_rate"])
	assert.Equal(t, float64(2), data["stats"].(map[string]interface{})["sets"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/admin/cache/rankings", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["deleted"])

	keys, err := rankingCache.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCacheHandler_NotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewCacheHandler(nil)
	router := gin.New()
	router.GET("/stats", h.GetCacheStats)
	router.DELETE("/rankings", h.ClearRankings)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/stats", nil),
		httptest.NewRequest(http.MethodDelete, "/rankings", nil),
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	}
}
