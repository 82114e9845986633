package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvehub/cvehub/internal/apperr"
)

func TestWriteError_NotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, &apperr.NotFoundError{ID: "CVE-2026-0001"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error_code":"not_found"`)
}

func TestWriteError_UnauthenticatedSetsWWWAuthenticate(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, apperr.NewUnauthenticated("missing token"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestWriteError_ForbiddenOmitsWWWAuthenticate(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, apperr.NewForbidden("admin role required"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestWriteError_LockedIncludesLockDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	expiry := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	writeError(rec, &apperr.LockedError{LockedBy: "alice", LockExpiresAt: expiry})

	assert.Equal(t, http.StatusLocked, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"locked_by":"alice"`)
	assert.Contains(t, body, `"lock_expires_at":"2026-07-31T12:00:00Z"`)
}

func TestWriteError_ValidationIncludesFieldErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, apperr.NewValidation("invalid request", "cvss_score", "must be between 0 and 10"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"field":"cvss_score"`)
	assert.Contains(t, body, `"message":"must be between 0 and 10"`)
}

func TestWriteJSON_NilBodyWritesNoPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/cves", strings.NewReader(`{"id":"CVE-2026-0001","bogus":true}`))
	var dst struct {
		ID string `json:"id"`
	}
	err := decodeJSON(req, &dst)
	require.Error(t, err)
}
