// Package ledger contains the rate-limit and budget domain: token bucket
// parameters, period keys, and the store contracts the pipeline admits
// and debits through.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is returned when the tenant's token bucket is empty.
	ErrRateLimited = errors.New("rate limited")
	// ErrBudgetExceeded is returned when a debit would push used past limit.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrStoreUnavailable is returned when the coordinating store cannot
	// answer. Callers fail closed on it.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// Period is a budget accounting window.
type Period string

const (
	PeriodDay  Period = "day"
	PeriodWeek Period = "week"
)

// Valid reports whether the period is one of the accepted windows.
func (p Period) Valid() bool {
	return p == PeriodDay || p == PeriodWeek
}

// Key renders the current period key in UTC, e.g. "2026-08-25" for day
// or "2026-W35" for ISO week. The key partitions counters so a new day
// or week starts from zero without a reset job.
func (p Period) Key(now time.Time) string {
	now = now.UTC()
	if p == PeriodWeek {
		year, week := now.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	}
	return now.Format("2006-01-02")
}

// RateLimit is a tenant's admission configuration.
// Capacity equals one full refill second, so an idle bucket tolerates a
// burst of qps calls before throttling.
type RateLimit struct {
	Tenant string  `json:"tenant"`
	QPS    float64 `json:"qps"`
}

// Budget is one named spending cap for a tenant.
type Budget struct {
	Tenant   string  `json:"tenant"`
	Name     string  `json:"name"`
	Period   Period  `json:"period"`
	LimitUSD float64 `json:"limit_usd"`
}

// BudgetUsage is a point-in-time view of a budget counter.
type BudgetUsage struct {
	Budget
	PeriodKey string  `json:"period_key"`
	UsedUSD   float64 `json:"used_usd"`
}

// RateStore admits calls against per-tenant token buckets.
// A tenant with no configured rate limit is admitted unconditionally.
type RateStore interface {
	// Admit refills the tenant's bucket and takes one token.
	// Returns ErrRateLimited when no token is available.
	Admit(ctx context.Context, tenant string) error

	// SetRateLimit installs or replaces the tenant's QPS.
	SetRateLimit(ctx context.Context, limit RateLimit) error

	// GetRateLimit returns the tenant's QPS, or ok=false when none is set.
	GetRateLimit(ctx context.Context, tenant string) (RateLimit, bool, error)
}

// BudgetStore tracks spend against named per-tenant budgets.
// A tenant with no budget of the given name is unlimited.
type BudgetStore interface {
	// Debit atomically adds amount to the current period's counter,
	// failing with ErrBudgetExceeded if the result would pass the limit.
	// The compare and the increment happen in one store round-trip.
	Debit(ctx context.Context, tenant, name string, amount float64, now time.Time) error

	// Refund decrements the current period's counter, clamped at zero.
	// Used when a debited call fails downstream in the same request.
	Refund(ctx context.Context, tenant, name string, amount float64, now time.Time) error

	// SetBudget installs or replaces a named budget.
	SetBudget(ctx context.Context, b Budget) error

	// Usage returns the budget plus the current period's spend,
	// or ok=false when the budget does not exist.
	Usage(ctx context.Context, tenant, name string, now time.Time) (BudgetUsage, bool, error)
}
