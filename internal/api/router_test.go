package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvehub/cvehub/internal/api"
	"github.com/cvehub/cvehub/internal/auth"
	"github.com/cvehub/cvehub/internal/clock"
	"github.com/cvehub/cvehub/pkg/config"
	"github.com/cvehub/cvehub/pkg/logger"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	log := logger.New("error", "json")
	authSvc := auth.New(nil, clock.Real{}, config.AuthConfig{
		SecretKey:            "test-secret",
		Algorithm:            "HS256",
		AccessTokenLifetime:  30 * time.Minute,
		RefreshTokenLifetime: 7 * 24 * time.Hour,
	}, log)

	return api.New(api.Config{
		Auth: authSvc,
		CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		RateLimit: config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 1000,
			BurstSize:         1000,
			CleanupInterval:   time.Minute,
		},
		Log: log,
	})
}

func TestRouter_Healthz_IsPublic(t *testing.T) {
	router := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRouter_ProtectedRoute_RejectsMissingToken(t *testing.T) {
	router := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/cves", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestRouter_ProtectedRoute_RejectsBadToken(t *testing.T) {
	router := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/cves", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_AdminOnlyRoute_RejectsMissingTokenBeforeAdminCheck(t *testing.T) {
	router := testRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/crawlers/run/nuclei", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// No token at all still short-circuits at the auth middleware before
	// the admin check ever runs.
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
