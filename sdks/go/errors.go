package toolgate

import (
	"errors"
	"fmt"
)

// Sentinel errors mapped from the gateway's JSON-RPC error codes.
var (
	// ErrUnauthorized means the bearer token was missing or rejected.
	ErrUnauthorized = errors.New("toolgate: unauthorized")
	// ErrRateLimited means the tenant's rate limit is exhausted.
	ErrRateLimited = errors.New("toolgate: rate limited")
	// ErrBudgetExceeded means the tenant's spend budget is exhausted.
	ErrBudgetExceeded = errors.New("toolgate: budget exceeded")
	// ErrStoreUnavailable means the gateway's coordination store is down.
	ErrStoreUnavailable = errors.New("toolgate: store unavailable")
)

// JSON-RPC error codes used by the gateway.
const (
	codeInvalidParams    = -32602
	codeUnauthorized     = -32000
	codeForbidden        = -32001
	codeRateLimited      = -32002
	codeBudgetExceeded   = -32003
	codeStoreUnavailable = -32004
)

// RPCError is a JSON-RPC error reply that did not map to a more specific
// error type.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("toolgate: rpc error %d: %s", e.Code, e.Message)
}

// DeniedError means policy denied the call.
type DeniedError struct {
	// Reason is the policy rule's reason string.
	Reason string
}

func (e *DeniedError) Error() string {
	return "toolgate: denied: " + e.Reason
}

// PendingError means the call was deferred for human approval. The call
// did not execute; retry after the approval identified by ID resolves.
type PendingError struct {
	ID string
}

func (e *PendingError) Error() string {
	return "toolgate: approval pending: " + e.ID
}

// mapRPCError converts a JSON-RPC error object to the SDK's error types.
func mapRPCError(code int, message string) error {
	switch code {
	case codeUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, message)
	case codeForbidden:
		return &DeniedError{Reason: message}
	case codeRateLimited:
		return fmt.Errorf("%w: %s", ErrRateLimited, message)
	case codeBudgetExceeded:
		return fmt.Errorf("%w: %s", ErrBudgetExceeded, message)
	case codeStoreUnavailable:
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, message)
	default:
		return &RPCError{Code: code, Message: message}
	}
}
