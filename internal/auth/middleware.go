package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/pkg/logger"
)

type contextKey string

const principalContextKey contextKey = "principal"

// Middleware extracts and verifies a Bearer access token, attaching the
// resulting Principal to the request context. The token is read from the
// Authorization header, falling back to a "token" query parameter for
// the WebSocket upgrade endpoint (browsers cannot set custom headers on
// the handshake request), per §6. Missing/invalid tokens reject the
// request with the AuthError → 401 mapping and a WWW-Authenticate
// header, per §7.
func Middleware(svc *Service, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeUnauthenticated(w)
				return
			}

			principal, err := svc.CurrentUser(token)
			if err != nil {
				log.WarnContext(r.Context(), "token verification failed", "error", err)
				writeUnauthenticated(w)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			ctx = context.WithValue(ctx, logger.UserIDKey, principal.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] != "" {
		return parts[1]
	}
	return r.URL.Query().Get("token")
}

// RequireAdmin rejects any request whose principal is not an admin. It
// must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := FromContext(r.Context())
		if !ok || !principal.IsAdmin() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(apperr.HTTPStatus(apperr.NewForbidden("admin role required")))
			w.Write([]byte(`{"detail":"admin role required","error_code":"forbidden"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FromContext retrieves the verified Principal attached by Middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"detail":"missing or invalid bearer token","error_code":"unauthenticated"}`))
}
