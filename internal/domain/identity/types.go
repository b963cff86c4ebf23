// Package identity contains principals, roles, and the token verifier
// contract used to authenticate callers.
package identity

import (
	"context"
	"errors"
)

// Role is a named capability grant.
type Role string

const (
	// RoleAdmin implies every other role.
	RoleAdmin Role = "admin"
	// RoleApprover may submit approval decisions.
	RoleApprover Role = "approver"
	// RoleViewer may run the simulator and read audit/metrics.
	RoleViewer Role = "viewer"
)

var (
	// ErrTokenInvalid is returned for malformed, mis-signed, or expired tokens.
	ErrTokenInvalid = errors.New("bearer token invalid")
	// ErrForbidden is returned when the principal lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// Principal is an authenticated caller.
type Principal struct {
	Tenant  string `json:"tenant"`
	Subject string `json:"subject"`
	Roles   []Role `json:"roles"`
}

// HasRole reports whether the principal holds the role.
// Admin implies everything.
func (p Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == RoleAdmin || r == role {
			return true
		}
	}
	return false
}

// Verifier turns a bearer token into a principal.
type Verifier interface {
	// Verify validates the token and returns the principal it names.
	// Returns ErrTokenInvalid for anything that does not verify.
	Verify(ctx context.Context, token string) (Principal, error)
}

// RoleStore persists per-tenant role assignments for RBAC admin.
type RoleStore interface {
	// SetRoles replaces the subject's roles within the tenant.
	SetRoles(ctx context.Context, tenant, subject string, roles []Role) error

	// GetRoles returns the subject's roles, empty when none assigned.
	GetRoles(ctx context.Context, tenant, subject string) ([]Role, error)
}

// ParseRoles converts role names, dropping empty strings. Names outside
// the built-in set are kept: approver-group roles are free-form.
func ParseRoles(names []string) []Role {
	out := make([]Role, 0, len(names))
	for _, n := range names {
		if n != "" {
			out = append(out, Role(n))
		}
	}
	return out
}
