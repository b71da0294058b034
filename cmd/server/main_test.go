package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/irfndi/distance-pairs/internal/api"
	"github.com/irfndi/distance-pairs/internal/app"
	"github.com/irfndi/distance-pairs/internal/logging"
	"github.com/irfndi/distance-pairs/internal/middleware"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("ENVIRONMENT", "development")
	t.Chdir(t.TempDir())
}

func TestLoadConfig_FlagsOverrideDefaults(t *testing.T) {
	resetViper(t)

	cfg, flags, err := loadConfig([]string{"--port", "9191", "--log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Empty(t, flags.issueToken)
	assert.Equal(t, []string{api.ScopeRun}, flags.tokenScopes)
}

func TestLoadConfig_UnknownFlag(t *testing.T) {
	resetViper(t)
	_, _, err := loadConfig([]string{"--nope"})
	assert.Error(t, err)
}

func TestIssueToken(t *testing.T) {
	resetViper(t)
	t.Setenv("JWT_SECRET", "cli-secret")

	var out bytes.Buffer
	require.NoError(t, run([]string{"--issue-token", "analyst", "--token-ttl", "5m"}, &out))

	claims, err := middleware.NewAuthMiddleware("cli-secret").ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "analyst", claims.Subject)
	assert.True(t, claims.HasScope(api.ScopeRun))
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestIssueToken_NoSecret(t *testing.T) {
	resetViper(t)
	t.Setenv("JWT_SECRET", "")
	assert.Error(t, run([]string{"--issue-token", "analyst"}, &bytes.Buffer{}))
}

func TestNewRouter(t *testing.T) {
	resetViper(t)
	t.Setenv("ADMIN_API_KEY", "ops")
	cfg, _, err := loadConfig(nil)
	require.NoError(t, err)

	logger := logging.NewStandardLogger("error", "test")
	logger.SetOutput(&bytes.Buffer{})
	a, err := app.New(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close(context.Background())

	router, err := newRouter(a)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"disabled"`)

	// No Redis, so the admin routes are not mounted.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/cache/stats", nil)
	req.Header.Set("X-API-Key", "ops")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/distances", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewHTTPServer(t *testing.T) {
	resetViper(t)
	cfg, _, err := loadConfig([]string{"--port", "8181"})
	require.NoError(t, err)

	srv := newHTTPServer(cfg, http.NewServeMux())
	assert.Equal(t, ":8181", srv.Addr)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
}
