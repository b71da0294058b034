package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/irfndi/distance-pairs/internal/api/handlers"
	"github.com/irfndi/distance-pairs/internal/cache"
	"github.com/irfndi/distance-pairs/internal/database"
	"github.com/irfndi/distance-pairs/internal/exporter"
	"github.com/irfndi/distance-pairs/internal/middleware"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/irfndi/distance-pairs/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	testSecret   = "route-secret"
	testAdminKey = "route-admin"
)

type routeEnv struct {
	router   *gin.Engine
	auth     *middleware.AuthMiddleware
	recorder *tracetest.SpanRecorder
}

func newRouteEnv(t *testing.T, secret string) *routeEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rankingCache := cache.NewRedisRankingCache(client, time.Hour, nil)

	store := database.NewMemoryRunStore(10)
	backtester := services.NewBacktester(services.WithRankingCache(rankingCache), services.WithRunRepository(store))

	recorder := tracetest.NewSpanRecorder()
	env := &routeEnv{
		router:   gin.New(),
		auth:     middleware.NewAuthMiddleware(secret),
		recorder: recorder,
	}
	SetupRoutes(env.router, Dependencies{
		Backtester:     backtester,
		Runs:           store,
		Reports:        exporter.NewWorkbookExporter(),
		RankingCache:   rankingCache,
		HealthChecks:   map[string]handlers.HealthChecker{"redis": &database.RedisClient{Client: client}, "database": nil},
		Defaults:       models.BacktestParams{Top: 3, Threshold: 1, TrainRatio: 0.5, Distance: "sum_squared"},
		Auth:           env.auth,
		Admin:          middleware.NewAdminMiddleware(testAdminKey),
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
		MaxBodyBytes:   1 << 20,
	})
	return env
}

func (e *routeEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *routeEnv) token(t *testing.T, scopes ...string) string {
	t.Helper()
	token, err := e.auth.GenerateToken("tester", scopes, time.Hour)
	require.NoError(t, err)
	return token
}

// priceTable returns three oscillating series over n days.
func priceTable(n int) map[string]interface{} {
	timestamps := make([]time.Time, n)
	prices := make([][]float64, n)
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		x := float64(i)
		timestamps[i] = start.AddDate(0, 0, i)
		prices[i] = []float64{
			100 + 5*math.Sin(x/2),
			50 + 2.5*math.Sin(x/2+0.3),
			20 + math.Cos(x/3),
		}
	}
	return map[string]interface{}{
		"timestamps": timestamps,
		"assets":     []string{"AAA", "BBB", "CCC"},
		"prices":     prices,
	}
}

func TestRoutes_BacktestLifecycle(t *testing.T) {
	env := newRouteEnv(t, testSecret)
	runToken := env.token(t, ScopeRun)

	w := env.do(t, http.MethodPost, "/api/v1/backtests", map[string]interface{}{"table": priceTable(40)}, runToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Data models.BacktestRun `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	run := created.Data
	assert.Len(t, run.Pairs, 3)
	assert.Equal(t, len(run.Pairs), len(run.Results)+len(run.Failures))

	readToken := env.token(t)
	w = env.do(t, http.MethodGet, "/api/v1/backtests/"+run.ID.String(), nil, readToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/backtests", nil, readToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), run.ID.String())

	if len(run.Results) > 0 {
		rank := run.Results[0].Pair.Rank
		w = env.do(t, http.MethodGet, "/api/v1/backtests/"+run.ID.String()+"/pairs/"+strconv.Itoa(rank)+"/equity", nil, readToken)
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	var traced bool
	for _, s := range env.recorder.Ended() {
		if strings.HasSuffix(s.Name(), "/api/v1/backtests") {
			traced = true
		}
	}
	assert.True(t, traced, "expected a server span for the backtest route")
}

func TestRoutes_RankUsesCache(t *testing.T) {
	env := newRouteEnv(t, testSecret)
	token := env.token(t)
	body := map[string]interface{}{"top": 2, "table": priceTable(30)}

	first := env.do(t, http.MethodPost, "/api/v1/pairs/rank", body, token)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := env.do(t, http.MethodPost, "/api/v1/pairs/rank", body, token)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	w := env.do(t, http.MethodGet, "/admin/cache/stats", nil, testAdminKey)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Data struct {
			Stats   cache.RankingCacheStats `json:"stats"`
			Entries int                     `json:"entries"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Data.Stats.Hits)
	assert.Equal(t, 1, stats.Data.Entries)
}

func TestRoutes_Auth(t *testing.T) {
	env := newRouteEnv(t, testSecret)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/v1/distances", nil, "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/distances", nil, env.token(t)).Code)

	body := map[string]interface{}{"table": priceTable(20)}
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/api/v1/backtests", body, env.token(t)).Code)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodDelete, "/admin/cache/rankings", nil, "wrong").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/admin/cache/rankings", nil, testAdminKey).Code)
}

func TestRoutes_AuthDisabledWithoutSecret(t *testing.T) {
	env := newRouteEnv(t, "")
	w := env.do(t, http.MethodGet, "/api/v1/distances", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sum_squared")
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestRoutes_Health(t *testing.T) {
	env := newRouteEnv(t, testSecret)
	w := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Services["redis"])
	assert.Equal(t, "disabled", resp.Services["database"])
}

func TestRoutes_BodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, Dependencies{
		Backtester:   services.NewBacktester(),
		Runs:         database.NewMemoryRunStore(1),
		Defaults:     models.BacktestParams{Top: 1, Threshold: 1, TrainRatio: 0.5},
		MaxBodyBytes: 64,
	})

	raw, err := json.Marshal(map[string]interface{}{"table": priceTable(20)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pairs/rank", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
