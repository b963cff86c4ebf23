// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by transport middleware to store and retrieve the logger with request_id/tenant fields.
type LoggerKey struct{}

// PrincipalKey is the context key type for the authenticated principal.
// Set by the bearer-token middleware after verification.
type PrincipalKey struct{}

// RequestIDKey is the context key type for the JSON-RPC request correlation ID.
type RequestIDKey struct{}
