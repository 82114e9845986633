package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvehub/cvehub/internal/auth"
	"github.com/cvehub/cvehub/internal/clock"
	"github.com/cvehub/cvehub/pkg/config"
	"github.com/cvehub/cvehub/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New("error", "json")
}

// signTestToken mints a token the same way Service.issueTokenPair does,
// without requiring a live store.
func signTestToken(t *testing.T, secret, username string, role auth.Role) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"role":     string(role),
		"sub":      username,
		"iat":      jwt.NewNumericDate(now),
		"exp":      jwt.NewNumericDate(now.Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestService_IssueAndVerifyTokenRoundTrip(t *testing.T) {
	cfg := config.AuthConfig{
		SecretKey:            "test-secret",
		Algorithm:            "HS256",
		AccessTokenLifetime:  30 * time.Minute,
		RefreshTokenLifetime: 7 * 24 * time.Hour,
	}
	svc := auth.New(nil, clock.Real{}, cfg, testLogger())

	token := signTestToken(t, cfg.SecretKey, "alice", auth.RoleAdmin)

	principal, err := svc.CurrentUser(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.Username)
	assert.True(t, principal.IsAdmin())
}

func TestService_CurrentUser_RejectsGarbageToken(t *testing.T) {
	svc := auth.New(nil, clock.Real{}, config.AuthConfig{SecretKey: "s"}, testLogger())
	_, err := svc.CurrentUser("not-a-jwt")
	assert.Error(t, err)
}

func TestPrincipal_IsAdmin(t *testing.T) {
	assert.True(t, auth.Principal{Role: auth.RoleAdmin}.IsAdmin())
	assert.False(t, auth.Principal{Role: auth.RoleUser}.IsAdmin())
}
