// Package memory provides in-memory implementations of outbound ports.
// Used by tests and single-process deployments without a coordinating store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/ledger"
)

type bucket struct {
	qps        float64
	tokens     float64
	lastRefill time.Time
}

type budgetCounter struct {
	budget ledger.Budget
	used   map[string]float64 // period key -> spend
}

// Ledger implements ledger.RateStore and ledger.BudgetStore in memory.
// Thread-safe. The clock is injectable so tests control refill time.
type Ledger struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	budgets map[string]*budgetCounter // tenant/name
	now     func() time.Time
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		buckets: make(map[string]*bucket),
		budgets: make(map[string]*budgetCounter),
		now:     time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Admit refills the tenant's bucket and takes one token.
// Capacity is one refill second (qps tokens), matching the burst
// tolerance the token-bucket contract documents.
func (l *Ledger) Admit(ctx context.Context, tenant string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[tenant]
	if !ok {
		// No limit configured: unlimited.
		return nil
	}

	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.qps
		capacity := b.qps
		if capacity < 1 {
			capacity = 1
		}
		if b.tokens > capacity {
			b.tokens = capacity
		}
		b.lastRefill = now
	}

	if b.tokens < 1 {
		return ledger.ErrRateLimited
	}
	b.tokens--
	return nil
}

// SetRateLimit installs or replaces the tenant's QPS. A full bucket is
// granted on (re)configuration.
func (l *Ledger) SetRateLimit(ctx context.Context, limit ledger.RateLimit) error {
	if limit.QPS <= 0 {
		return fmt.Errorf("qps must be positive, got %g", limit.QPS)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	capacity := limit.QPS
	if capacity < 1 {
		capacity = 1
	}
	l.buckets[limit.Tenant] = &bucket{qps: limit.QPS, tokens: capacity, lastRefill: l.now()}
	return nil
}

// GetRateLimit returns the tenant's QPS, or ok=false when none is set.
func (l *Ledger) GetRateLimit(ctx context.Context, tenant string) (ledger.RateLimit, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[tenant]
	if !ok {
		return ledger.RateLimit{}, false, nil
	}
	return ledger.RateLimit{Tenant: tenant, QPS: b.qps}, true, nil
}

func budgetKey(tenant, name string) string {
	return tenant + "/" + name
}

// Debit atomically adds amount to the current period's counter.
func (l *Ledger) Debit(ctx context.Context, tenant, name string, amount float64, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.budgets[budgetKey(tenant, name)]
	if !ok {
		// No budget configured: unlimited.
		return nil
	}
	key := c.budget.Period.Key(now)
	if c.used[key]+amount > c.budget.LimitUSD {
		return ledger.ErrBudgetExceeded
	}
	c.used[key] += amount
	return nil
}

// Refund decrements the current period's counter, clamped at zero.
func (l *Ledger) Refund(ctx context.Context, tenant, name string, amount float64, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.budgets[budgetKey(tenant, name)]
	if !ok {
		return nil
	}
	key := c.budget.Period.Key(now)
	c.used[key] -= amount
	if c.used[key] < 0 {
		c.used[key] = 0
	}
	return nil
}

// SetBudget installs or replaces a named budget. Spend already recorded
// for the current period is preserved across replacement.
func (l *Ledger) SetBudget(ctx context.Context, b ledger.Budget) error {
	if !b.Period.Valid() {
		return fmt.Errorf("invalid budget period %q", b.Period)
	}
	if b.LimitUSD < 0 {
		return fmt.Errorf("budget limit must be non-negative, got %g", b.LimitUSD)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := budgetKey(b.Tenant, b.Name)
	if existing, ok := l.budgets[key]; ok {
		existing.budget = b
		return nil
	}
	l.budgets[key] = &budgetCounter{budget: b, used: make(map[string]float64)}
	return nil
}

// Usage returns the budget plus the current period's spend.
func (l *Ledger) Usage(ctx context.Context, tenant, name string, now time.Time) (ledger.BudgetUsage, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.budgets[budgetKey(tenant, name)]
	if !ok {
		return ledger.BudgetUsage{}, false, nil
	}
	key := c.budget.Period.Key(now)
	return ledger.BudgetUsage{
		Budget:    c.budget,
		PeriodKey: key,
		UsedUSD:   c.used[key],
	}, true, nil
}

// Compile-time interface verification.
var (
	_ ledger.RateStore   = (*Ledger)(nil)
	_ ledger.BudgetStore = (*Ledger)(nil)
)
