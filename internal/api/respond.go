// Package api wires the REST surface (C13): a chi router, thin handlers
// over C7/C8/C10/C11/C12/auth, and the error-mapping/logging/recovery
// middleware stack.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/cvehub/cvehub/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// errorBody is the §6 wire shape: {detail, error_code, errors?}.
type errorBody struct {
	Detail        string              `json:"detail"`
	ErrorCode     string              `json:"error_code"`
	Errors        []apperr.FieldError `json:"errors,omitempty"`
	LockedBy      string              `json:"locked_by,omitempty"`
	LockExpiresAt string              `json:"lock_expires_at,omitempty"`
}

// writeError maps err onto the standard HTTP status/body error contract,
// including the WWW-Authenticate header on 401 and the lock details on
// 423.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody{Detail: err.Error(), ErrorCode: apperr.Code(err)}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}

	var ve *apperr.ValidationError
	if as, ok := err.(*apperr.ValidationError); ok {
		ve = as
		body.Errors = ve.Errors
	}
	if le, ok := err.(*apperr.LockedError); ok {
		body.LockedBy = le.LockedBy
		body.LockExpiresAt = le.LockExpiresAt.UTC().Format("2006-01-02T15:04:05Z")
	}

	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
