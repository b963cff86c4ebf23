package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/audit"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/domain/ledger"
)

// ErrValidation marks admin inputs rejected before reaching a store.
var ErrValidation = errors.New("validation failed")

// AdminService applies tenant configuration changes and audits each one.
type AdminService struct {
	rates   ledger.RateStore
	budgets ledger.BudgetStore
	roles   identity.RoleStore
	auditor *AuditRecorder
	logger  *slog.Logger
}

// NewAdminService wires the admin operations.
func NewAdminService(rates ledger.RateStore, budgets ledger.BudgetStore, roles identity.RoleStore, auditor *AuditRecorder, logger *slog.Logger) *AdminService {
	return &AdminService{
		rates:   rates,
		budgets: budgets,
		roles:   roles,
		auditor: auditor,
		logger:  logger,
	}
}

// SetRateLimit installs a tenant's QPS.
func (s *AdminService) SetRateLimit(ctx context.Context, actor identity.Principal, limit ledger.RateLimit) error {
	if limit.QPS <= 0 {
		return fmt.Errorf("%w: qps must be positive, got %v", ErrValidation, limit.QPS)
	}
	if err := s.rates.SetRateLimit(ctx, limit); err != nil {
		return err
	}
	_, err := s.auditor.Record(ctx, audit.Entry{
		Event:   audit.EventRateLimitChanged,
		Tenant:  limit.Tenant,
		Subject: actor.Subject,
		ResultMeta: map[string]string{
			"qps": fmt.Sprintf("%v", limit.QPS),
		},
	})
	if err != nil {
		return err
	}
	s.logger.Info("rate limit changed",
		slog.String("tenant", limit.Tenant),
		slog.Float64("qps", limit.QPS))
	return nil
}

// GetRateLimit reads a tenant's QPS.
func (s *AdminService) GetRateLimit(ctx context.Context, tenant string) (ledger.RateLimit, bool, error) {
	return s.rates.GetRateLimit(ctx, tenant)
}

// SetBudget installs or replaces a named budget. Current-period spend
// survives a limit change.
func (s *AdminService) SetBudget(ctx context.Context, actor identity.Principal, b ledger.Budget) error {
	if !b.Period.Valid() {
		return fmt.Errorf("%w: period must be day or week, got %q", ErrValidation, b.Period)
	}
	if b.LimitUSD < 0 {
		return fmt.Errorf("%w: limit_usd must be non-negative, got %v", ErrValidation, b.LimitUSD)
	}
	if err := s.budgets.SetBudget(ctx, b); err != nil {
		return err
	}
	_, err := s.auditor.Record(ctx, audit.Entry{
		Event:   audit.EventQuotaChanged,
		Tenant:  b.Tenant,
		Subject: actor.Subject,
		ResultMeta: map[string]string{
			"budget":    b.Name,
			"period":    string(b.Period),
			"limit_usd": fmt.Sprintf("%v", b.LimitUSD),
		},
	})
	if err != nil {
		return err
	}
	s.logger.Info("budget changed",
		slog.String("tenant", b.Tenant),
		slog.String("budget", b.Name),
		slog.Float64("limit_usd", b.LimitUSD))
	return nil
}

// GetBudgetUsage reads a budget and its current-period spend.
func (s *AdminService) GetBudgetUsage(ctx context.Context, tenant, name string) (ledger.BudgetUsage, bool, error) {
	return s.budgets.Usage(ctx, tenant, name, time.Now())
}

// SetRoles replaces a subject's roles within a tenant.
func (s *AdminService) SetRoles(ctx context.Context, actor identity.Principal, tenant, subject string, roles []identity.Role) error {
	if err := s.roles.SetRoles(ctx, tenant, subject, roles); err != nil {
		return err
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	_, err := s.auditor.Record(ctx, audit.Entry{
		Event:   audit.EventRBACChanged,
		Tenant:  tenant,
		Subject: actor.Subject,
		ResultMeta: map[string]string{
			"target": subject,
			"roles":  fmt.Sprintf("%v", names),
		},
	})
	if err != nil {
		return err
	}
	s.logger.Info("rbac changed",
		slog.String("tenant", tenant),
		slog.String("subject", subject))
	return nil
}

// GetRoles reads a subject's stored roles.
func (s *AdminService) GetRoles(ctx context.Context, tenant, subject string) ([]identity.Role, error) {
	return s.roles.GetRoles(ctx, tenant, subject)
}
