// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger returns a middleware that logs HTTP requests. Scrapes of
// /metrics and /health are logged at debug.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				level := slog.LevelInfo
				if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
					level = slog.LevelDebug
				}
				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start).String(),
					"request_id", middleware.GetReqID(r.Context()),
					"remote_addr", r.RemoteAddr,
				}
				if op := GetOperator(r.Context()); op != "" {
					attrs = append(attrs, "operator", op)
				}
				logger.Log(r.Context(), level, "request completed", attrs...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
