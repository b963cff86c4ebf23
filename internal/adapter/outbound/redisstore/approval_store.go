package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toolgate-dev/toolgate/internal/domain/approval"
)

func approvalKey(id string) string  { return "appr:" + id }
func approvalChan(id string) string { return "appr:notify:" + id }

// approvalIndexKey tracks a tenant's pending IDs for listing.
func approvalIndexKey(tenant string) string { return "appr:index:" + tenant }

// recordGrace keeps logically-expired records readable for status
// queries after the TTL, before Redis reclaims the key.
const recordGrace = time.Hour

// createScript writes the full record, its TTL, and the tenant index
// entry in one atomic call, so a concurrent duplicate create always
// observes a complete record and never a torn, TTL-less key.
// Returns 0 when the record already exists.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3, #ARGV))
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[1]))
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[1]))
return 1
`)

// maxCASRetries bounds optimistic-transaction retries under contention.
const maxCASRetries = 8

// ApprovalStore implements approval.Store on Redis. Records live in a
// hash per pending ID; terminal transitions are published on a per-ID
// channel so any instance's waiters wake.
type ApprovalStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewApprovalStore wraps a Redis client as the shared approval store.
func NewApprovalStore(client *redis.Client) *ApprovalStore {
	return &ApprovalStore{client: client, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (s *ApprovalStore) WithClock(now func() time.Time) *ApprovalStore {
	s.now = now
	return s
}

func marshalPending(p *approval.Pending) (map[string]any, error) {
	args, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}
	decisions, err := json.Marshal(p.Decisions)
	if err != nil {
		return nil, fmt.Errorf("marshal decisions: %w", err)
	}
	return map[string]any{
		"pending_id":         p.ID,
		"tenant":             p.Tenant,
		"requester":          p.Requester,
		"tool":               p.Tool,
		"args_json":          string(args),
		"summary":            p.Summary,
		"required_approvals": p.RequiredApprovals,
		"approver_group":     p.ApproverGroup,
		"decisions_json":     string(decisions),
		"status":             string(p.Status),
		"created_ts":         p.CreatedAt.UTC().Format(time.RFC3339Nano),
		"ttl_seconds":        p.TTLSeconds,
		"estimated_cost_usd": strconv.FormatFloat(p.EstimatedCostUSD, 'f', -1, 64),
	}, nil
}

func unmarshalPending(fields map[string]string) (*approval.Pending, error) {
	p := &approval.Pending{
		ID:            fields["pending_id"],
		Tenant:        fields["tenant"],
		Requester:     fields["requester"],
		Tool:          fields["tool"],
		Summary:       fields["summary"],
		ApproverGroup: fields["approver_group"],
		Status:        approval.Status(fields["status"]),
	}
	if err := json.Unmarshal([]byte(orDefault(fields["args_json"], "{}")), &p.Arguments); err != nil {
		return nil, fmt.Errorf("corrupt args for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(orDefault(fields["decisions_json"], "{}")), &p.Decisions); err != nil {
		return nil, fmt.Errorf("corrupt decisions for %s: %w", p.ID, err)
	}
	var err error
	if p.RequiredApprovals, err = strconv.Atoi(orDefault(fields["required_approvals"], "1")); err != nil {
		return nil, fmt.Errorf("corrupt quorum for %s: %w", p.ID, err)
	}
	if p.TTLSeconds, err = strconv.Atoi(orDefault(fields["ttl_seconds"], "0")); err != nil {
		return nil, fmt.Errorf("corrupt ttl for %s: %w", p.ID, err)
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_ts"]); err != nil {
		return nil, fmt.Errorf("corrupt created_ts for %s: %w", p.ID, err)
	}
	if raw := fields["estimated_cost_usd"]; raw != "" {
		if p.EstimatedCostUSD, err = strconv.ParseFloat(raw, 64); err != nil {
			return nil, fmt.Errorf("corrupt cost for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Create writes a new pending record with its TTL via one Lua call.
// Concurrent creates for the same ID are idempotent: the loser reads
// back the winner's record.
func (s *ApprovalStore) Create(ctx context.Context, p *approval.Pending) (*approval.Pending, error) {
	fields, err := marshalPending(p)
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(p.TTLSeconds)*time.Second + recordGrace

	argv := make([]any, 0, 2+2*len(fields))
	argv = append(argv, int(ttl.Seconds()), p.ID)
	for k, v := range fields {
		argv = append(argv, k, v)
	}

	created, err := createScript.Run(ctx, s.client,
		[]string{approvalKey(p.ID), approvalIndexKey(p.Tenant)}, argv...).Int()
	if err != nil {
		return nil, fmt.Errorf("create approval %s: %w", p.ID, err)
	}
	if created == 0 {
		return s.Get(ctx, p.ID)
	}
	return p.Clone(), nil
}

// Get returns a snapshot of the record, or ErrNotFound.
func (s *ApprovalStore) Get(ctx context.Context, id string) (*approval.Pending, error) {
	fields, err := s.client.HGetAll(ctx, approvalKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get approval %s: %w", id, err)
	}
	if len(fields) == 0 || fields["created_ts"] == "" {
		return nil, approval.ErrNotFound
	}
	return unmarshalPending(fields)
}

// RecordDecision atomically applies one approver's verdict with an
// optimistic transaction on the record key, then publishes terminal
// transitions on the per-ID channel.
func (s *ApprovalStore) RecordDecision(ctx context.Context, id, approver string, action approval.DecisionAction) (*approval.Pending, error) {
	key := approvalKey(id)
	var result *approval.Pending
	var applyErr error

	txn := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 || fields["created_ts"] == "" {
			return approval.ErrNotFound
		}
		p, err := unmarshalPending(fields)
		if err != nil {
			return err
		}

		wasTerminal := p.Status.Terminal()
		_, applyErr = approval.ApplyDecision(p, approver, action, s.now())
		result = p

		if wasTerminal {
			// Frozen: nothing to write, nothing to publish.
			return nil
		}

		updated, err := marshalPending(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, updated)
			if p.Status.Terminal() {
				payload, _ := json.Marshal(map[string]string{"pending_id": id, "status": string(p.Status)})
				pipe.Publish(ctx, approvalChan(id), payload)
				pipe.SRem(ctx, approvalIndexKey(p.Tenant), id)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, applyErr
	}
	return nil, fmt.Errorf("record decision for %s: transaction contention", id)
}

// WaitForResolution blocks until the record settles or the timeout fires.
// Subscribes before re-reading state so a transition in between is never
// missed, and re-polls every second as a safety net against a dropped
// pub/sub delivery.
func (s *ApprovalStore) WaitForResolution(ctx context.Context, id string, timeout time.Duration) (approval.Status, error) {
	sub := s.client.Subscribe(ctx, approvalChan(id))
	defer sub.Close()

	p, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if status := approval.TallyStatus(p, s.now()); status.Terminal() {
		return status, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	ch := sub.Channel()
	for {
		select {
		case <-ch:
		case <-poll.C:
		case <-timer.C:
			return approval.StatusPending, nil
		case <-ctx.Done():
			return approval.StatusPending, ctx.Err()
		}
		p, err := s.Get(ctx, id)
		if err != nil {
			return "", err
		}
		if status := approval.TallyStatus(p, s.now()); status.Terminal() {
			return status, nil
		}
	}
}

// ListPending returns non-terminal records for a tenant.
func (s *ApprovalStore) ListPending(ctx context.Context, tenant string) ([]*approval.Pending, error) {
	ids, err := s.client.SMembers(ctx, approvalIndexKey(tenant)).Result()
	if err != nil {
		return nil, fmt.Errorf("list approvals for %s: %w", tenant, err)
	}
	var out []*approval.Pending
	now := s.now()
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if errors.Is(err, approval.ErrNotFound) {
			s.client.SRem(ctx, approvalIndexKey(tenant), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if approval.TallyStatus(p, now) == approval.StatusPending {
			out = append(out, p)
		}
	}
	return out, nil
}

// Close releases resources. The Redis client is shared and closed by
// its owner.
func (s *ApprovalStore) Close() error {
	return nil
}

// Compile-time interface verification.
var _ approval.Store = (*ApprovalStore)(nil)
