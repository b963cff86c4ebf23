package memory

import (
	"context"
	"sync"

	"github.com/toolgate-dev/toolgate/internal/domain/identity"
)

// RoleStore implements identity.RoleStore in memory.
type RoleStore struct {
	mu    sync.RWMutex
	roles map[string][]identity.Role // tenant/subject
}

// NewRoleStore creates an empty in-memory role store.
func NewRoleStore() *RoleStore {
	return &RoleStore{roles: make(map[string][]identity.Role)}
}

func roleKey(tenant, subject string) string {
	return tenant + "/" + subject
}

// SetRoles replaces the subject's roles within the tenant.
func (s *RoleStore) SetRoles(ctx context.Context, tenant, subject string, roles []identity.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]identity.Role, len(roles))
	copy(out, roles)
	s.roles[roleKey(tenant, subject)] = out
	return nil
}

// GetRoles returns the subject's roles, empty when none assigned.
func (s *RoleStore) GetRoles(ctx context.Context, tenant, subject string) ([]identity.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.roles[roleKey(tenant, subject)]
	out := make([]identity.Role, len(stored))
	copy(out, stored)
	return out, nil
}

// Compile-time interface verification.
var _ identity.RoleStore = (*RoleStore)(nil)
