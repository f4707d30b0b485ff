package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/narvanalabs/tower-controller/internal/api/errors"
	"github.com/narvanalabs/tower-controller/internal/auth"
)

type contextKey string

// OperatorKey is the context key for the authenticated operator.
const OperatorKey contextKey = "operator"

// GetOperator extracts the operator from the request context.
func GetOperator(ctx context.Context) string {
	if v, ok := ctx.Value(OperatorKey).(string); ok {
		return v
	}
	return ""
}

// RequireOperator validates the bearer token on mutating requests. Safe
// methods pass through. A nil service disables the check.
func RequireOperator(svc *auth.Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if svc == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			reqID := chimiddleware.GetReqID(r.Context())
			token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				apierrors.WriteErrorWithRequestID(w, apierrors.NewUnauthorizedError("missing bearer token"), reqID)
				return
			}

			claims, err := svc.ValidateToken(token)
			if err != nil {
				logger.Debug("token validation failed", "error", err, "request_id", reqID)
				msg := "invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "token has expired"
				}
				apierrors.WriteErrorWithRequestID(w, apierrors.NewUnauthorizedError(msg), reqID)
				return
			}

			ctx := context.WithValue(r.Context(), OperatorKey, claims.Operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
