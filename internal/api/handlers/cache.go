package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/distance-pairs/internal/cache"
)

// RankingCacheAdmin exposes ranking cache maintenance.
type RankingCacheAdmin interface {
	GetStats() cache.RankingCacheStats
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) (int, error)
}

// CacheHandler handles ranking cache monitoring and maintenance endpoints.
type CacheHandler struct {
	cache RankingCacheAdmin
}

func NewCacheHandler(rankingCache RankingCacheAdmin) *CacheHandler {
	return &CacheHandler{cache: rankingCache}
}

// GetCacheStats returns hit/miss counters and the number of cached rankings.
// @Router /admin/cache/stats [get]
func (h *CacheHandler) GetCacheStats(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "ranking cache is not configured"})
		return
	}
	stats := h.cache.GetStats()
	keys, err := h.cache.Keys(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list cached rankings: " + err.Error(),
		})
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"stats":    stats,
		"hit_rate": stats.HitRate(),
		"entries":  len(keys),
	})
}

// ClearRankings deletes every cached ranking.
// @Router /admin/cache/rankings [delete]
func (h *CacheHandler) ClearRankings(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "ranking cache is not configured"})
		return
	}
	n, err := h.cache.Clear(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to clear rankings: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Ranking cache cleared",
		"deleted": n,
	})
}
