package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/toolgate-dev/toolgate/internal/domain/identity"
)

func rbacKey(tenant, subject string) string {
	return "rbac:" + tenant + ":" + subject
}

// RoleStore implements identity.RoleStore on Redis. Roles are stored as
// a JSON array so ordering survives round-trips.
type RoleStore struct {
	client *redis.Client
}

// NewRoleStore wraps a Redis client as the shared role store.
func NewRoleStore(client *redis.Client) *RoleStore {
	return &RoleStore{client: client}
}

// SetRoles replaces the subject's roles within the tenant.
func (s *RoleStore) SetRoles(ctx context.Context, tenant, subject string, roles []identity.Role) error {
	raw, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	if err := s.client.Set(ctx, rbacKey(tenant, subject), raw, 0).Err(); err != nil {
		return fmt.Errorf("set roles for %s/%s: %w", tenant, subject, err)
	}
	return nil
}

// GetRoles returns the subject's roles, empty when none assigned.
func (s *RoleStore) GetRoles(ctx context.Context, tenant, subject string) ([]identity.Role, error) {
	raw, err := s.client.Get(ctx, rbacKey(tenant, subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get roles for %s/%s: %w", tenant, subject, err)
	}
	var roles []identity.Role
	if err := json.Unmarshal(raw, &roles); err != nil {
		return nil, fmt.Errorf("corrupt roles for %s/%s: %w", tenant, subject, err)
	}
	return roles, nil
}

// Compile-time interface verification.
var _ identity.RoleStore = (*RoleStore)(nil)
