package api

import (
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cvehub/cvehub/pkg/logger"
)

// requestLogger logs one line per request, mirroring the service's
// request-scoped logging convention.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			requestID := chimiddleware.GetReqID(r.Context())
			reqLog := log.WithRequestID(requestID)

			reqLog.DebugContext(r.Context(), "request started",
				"method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

			next.ServeHTTP(ww, r)

			reqLog.InfoContext(r.Context(), "request completed",
				"method", r.Method, "path", r.URL.Path,
				"status", ww.Status(), "bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}

// recoverer turns a panic in a handler into a 500 instead of tearing down
// the server.
func recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					log.ErrorContext(r.Context(), "panic recovered",
						"error", rvr, "stack", string(debug.Stack()),
						"method", r.Method, "path", r.URL.Path)
					writeError(w, errors.New(http.StatusText(http.StatusInternalServerError)))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
