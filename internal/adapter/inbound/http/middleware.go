package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/toolgate-dev/toolgate/internal/ctxkey"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
)

// LoggerKey is the context key for the enriched logger.
// Uses the shared key type from ctxkey to allow cross-package access
// without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// PrincipalKey is the context key for the authenticated principal.
var PrincipalKey = ctxkey.PrincipalKey{}

// RequestIDKey is the context key for the request correlation ID.
var RequestIDKey = ctxkey.RequestIDKey{}

// RequestIDMiddleware extracts or generates a request ID and enriches the
// logger. The ID is stored under RequestIDKey and echoed in X-Request-ID;
// an enriched logger with the request_id field is stored under LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enriched := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enriched)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// BearerAuthMiddleware verifies the Authorization bearer token and stores
// the principal under PrincipalKey. Requests that do not verify get a 401
// with a JSON-RPC error body so MCP clients can surface the failure.
func BearerAuthMiddleware(verifier identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, "missing bearer token")
				return
			}
			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				LoggerFromContext(r.Context()).Warn("bearer token rejected", "error", err)
				writeAuthError(w, "bearer token invalid")
				return
			}
			ctx := context.WithValue(r.Context(), PrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext retrieves the authenticated principal from context.
func PrincipalFromContext(ctx context.Context) (identity.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(identity.Principal)
	return p, ok
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32000,"message":"` + message + `"}}`))
}
