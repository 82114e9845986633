package apperr_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cvehub/cvehub/internal/apperr"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.NewValidation("bad", "title", "required"), http.StatusBadRequest},
		{"unauthenticated", apperr.NewUnauthenticated("no token"), http.StatusUnauthorized},
		{"forbidden", apperr.NewForbidden("not admin"), http.StatusForbidden},
		{"not_found", &apperr.NotFoundError{ID: "CVE-2024-1"}, http.StatusNotFound},
		{"conflict", &apperr.ConflictError{Message: "dup"}, http.StatusConflict},
		{"locked", &apperr.LockedError{LockedBy: "alice", LockExpiresAt: time.Now()}, http.StatusLocked},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, apperr.HTTPStatus(c.err))
		})
	}
}

func TestWrappedErrorsStillMatch(t *testing.T) {
	base := &apperr.NotFoundError{ID: "CVE-2024-1"}
	wrapped := fmt.Errorf("get_detail: %w", base)
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(wrapped))
	assert.Equal(t, "not_found", apperr.Code(wrapped))
}

func TestStorageError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	se := &apperr.StorageError{Op: "update_one", Cause: cause}
	assert.ErrorIs(t, se, cause)
}
