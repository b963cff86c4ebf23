package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toolgate-dev/toolgate/internal/domain/ledger"
)

// admitScript refills and takes one token in a single round-trip.
// Capacity is one refill second (qps tokens) with a floor of one so a
// sub-1 QPS tenant still holds a whole token eventually.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local qps = tonumber(ARGV[1])
local now_ms = tonumber(ARGV[2])
local capacity = math.max(qps, 1)

local state = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(state[1])
local last_ms = tonumber(state[2])
if tokens == nil or last_ms == nil then
  tokens = capacity
  last_ms = now_ms
end

local elapsed = (now_ms - last_ms) / 1000
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * qps)
  last_ms = now_ms
end

local admitted = 0
if tokens >= 1 then
  tokens = tokens - 1
  admitted = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_ms', tostring(last_ms))
redis.call('EXPIRE', key, 3600)
return admitted
`)

// debitScript compares and increments the period counter atomically.
// Returns -1 when the debit would pass the limit.
var debitScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if used + amount > limit then
  return '-1'
end
local result = redis.call('INCRBYFLOAT', KEYS[1], amount)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
return result
`)

// refundScript decrements the period counter, clamped at zero.
var refundScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local next = used - amount
if next < 0 then
  next = 0
end
redis.call('SET', KEYS[1], tostring(next), 'EX', tonumber(ARGV[2]))
return tostring(next)
`)

// counterTTL keeps finished-period counters around long enough for
// operator inspection before Redis reclaims them.
const counterTTL = 14 * 24 * time.Hour

// Ledger implements ledger.RateStore and ledger.BudgetStore on Redis.
type Ledger struct {
	client *redis.Client
	now    func() time.Time
}

// NewLedger wraps a Redis client as the shared ledger.
func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{client: client, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func rateCfgKey(tenant string) string { return "rate:cfg:" + tenant }
func bucketKey(tenant string) string  { return "rate:bucket:" + tenant }

func budgetCfgKey(t, n string) string { return "budget:cfg:" + t + ":" + n }

func budgetUsedKey(t, n, p string) string {
	return "budget:used:" + t + ":" + n + ":" + p
}

// Admit refills the tenant's bucket and takes one token.
func (l *Ledger) Admit(ctx context.Context, tenant string) error {
	qps, err := l.client.Get(ctx, rateCfgKey(tenant)).Float64()
	if errors.Is(err, redis.Nil) {
		// No limit configured: unlimited.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}

	admitted, err := admitScript.Run(ctx, l.client,
		[]string{bucketKey(tenant)},
		qps, l.now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	if admitted != 1 {
		return ledger.ErrRateLimited
	}
	return nil
}

// SetRateLimit installs or replaces the tenant's QPS and resets the
// bucket so the new rate takes effect immediately.
func (l *Ledger) SetRateLimit(ctx context.Context, limit ledger.RateLimit) error {
	if limit.QPS <= 0 {
		return fmt.Errorf("qps must be positive, got %g", limit.QPS)
	}
	pipe := l.client.TxPipeline()
	pipe.Set(ctx, rateCfgKey(limit.Tenant), strconv.FormatFloat(limit.QPS, 'f', -1, 64), 0)
	pipe.Del(ctx, bucketKey(limit.Tenant))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// GetRateLimit returns the tenant's QPS, or ok=false when none is set.
func (l *Ledger) GetRateLimit(ctx context.Context, tenant string) (ledger.RateLimit, bool, error) {
	qps, err := l.client.Get(ctx, rateCfgKey(tenant)).Float64()
	if errors.Is(err, redis.Nil) {
		return ledger.RateLimit{}, false, nil
	}
	if err != nil {
		return ledger.RateLimit{}, false, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	return ledger.RateLimit{Tenant: tenant, QPS: qps}, true, nil
}

func (l *Ledger) budgetConfig(ctx context.Context, tenant, name string) (ledger.Budget, bool, error) {
	vals, err := l.client.HGetAll(ctx, budgetCfgKey(tenant, name)).Result()
	if err != nil {
		return ledger.Budget{}, false, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	if len(vals) == 0 {
		return ledger.Budget{}, false, nil
	}
	limit, err := strconv.ParseFloat(vals["limit_usd"], 64)
	if err != nil {
		return ledger.Budget{}, false, fmt.Errorf("corrupt budget config for %s/%s: %v", tenant, name, err)
	}
	return ledger.Budget{
		Tenant:   tenant,
		Name:     name,
		Period:   ledger.Period(vals["period"]),
		LimitUSD: limit,
	}, true, nil
}

// Debit atomically adds amount to the current period's counter.
// The compare and the increment run inside one Lua call.
func (l *Ledger) Debit(ctx context.Context, tenant, name string, amount float64, now time.Time) error {
	b, ok, err := l.budgetConfig(ctx, tenant, name)
	if err != nil {
		return err
	}
	if !ok {
		// No budget configured: unlimited.
		return nil
	}

	key := budgetUsedKey(tenant, name, b.Period.Key(now))
	res, err := debitScript.Run(ctx, l.client, []string{key}, amount, b.LimitUSD, int(counterTTL.Seconds())).Text()
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	if res == "-1" {
		return ledger.ErrBudgetExceeded
	}
	return nil
}

// Refund decrements the current period's counter, clamped at zero.
func (l *Ledger) Refund(ctx context.Context, tenant, name string, amount float64, now time.Time) error {
	b, ok, err := l.budgetConfig(ctx, tenant, name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	key := budgetUsedKey(tenant, name, b.Period.Key(now))
	if err := refundScript.Run(ctx, l.client, []string{key}, amount, int(counterTTL.Seconds())).Err(); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// SetBudget installs or replaces a named budget.
func (l *Ledger) SetBudget(ctx context.Context, b ledger.Budget) error {
	if !b.Period.Valid() {
		return fmt.Errorf("invalid budget period %q", b.Period)
	}
	if b.LimitUSD < 0 {
		return fmt.Errorf("budget limit must be non-negative, got %g", b.LimitUSD)
	}
	err := l.client.HSet(ctx, budgetCfgKey(b.Tenant, b.Name),
		"period", string(b.Period),
		"limit_usd", strconv.FormatFloat(b.LimitUSD, 'f', -1, 64),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// Usage returns the budget plus the current period's spend.
func (l *Ledger) Usage(ctx context.Context, tenant, name string, now time.Time) (ledger.BudgetUsage, bool, error) {
	b, ok, err := l.budgetConfig(ctx, tenant, name)
	if err != nil || !ok {
		return ledger.BudgetUsage{}, ok, err
	}
	key := budgetUsedKey(tenant, name, b.Period.Key(now))
	used, err := l.client.Get(ctx, key).Float64()
	if errors.Is(err, redis.Nil) {
		used = 0
	} else if err != nil {
		return ledger.BudgetUsage{}, false, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	return ledger.BudgetUsage{Budget: b, PeriodKey: b.Period.Key(now), UsedUSD: used}, true, nil
}

// Compile-time interface verification.
var (
	_ ledger.RateStore   = (*Ledger)(nil)
	_ ledger.BudgetStore = (*Ledger)(nil)
)
