// Package approval contains the dual-control approval domain: pending
// records, the decision tally state machine, and the store contract.
package approval

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL bounds how long a pending approval may wait for a quorum.
const DefaultTTL = 15 * time.Minute

// DecisionAction is a single approver's verdict.
type DecisionAction string

const (
	Approve DecisionAction = "approve"
	Deny    DecisionAction = "deny"
)

// Status is the lifecycle state of a pending approval.
type Status string

const (
	StatusPending Status = "pending"
	StatusAllow   Status = "allow"
	StatusDeny    Status = "deny"
	StatusExpired Status = "expired"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusAllow || s == StatusDeny || s == StatusExpired
}

var (
	// ErrNotFound is returned when no pending record exists for the ID.
	ErrNotFound = errors.New("approval not found")
	// ErrExpired is returned when a decision arrives after the TTL.
	ErrExpired = errors.New("approval expired")
	// ErrNotGroupMember is returned when the deciding approver is outside
	// the rule's approver group.
	ErrNotGroupMember = errors.New("approver not in required group")
)

// ApproverDecision is one approver's recorded verdict.
type ApproverDecision struct {
	Action DecisionAction `json:"action"`
	At     time.Time      `json:"ts"`
}

// Pending is a durable approval record. The store owns it; all mutation
// goes through the store's atomic record-decision operation.
type Pending struct {
	ID                string                      `json:"pending_id"`
	Tenant            string                      `json:"tenant"`
	Requester         string                      `json:"requester"`
	Tool              string                      `json:"tool"`
	Arguments         map[string]any              `json:"arguments"`
	Summary           string                      `json:"summary"`
	RequiredApprovals int                         `json:"required_approvals"`
	ApproverGroup     string                      `json:"approver_group,omitempty"`
	Decisions         map[string]ApproverDecision `json:"decisions"`
	Status            Status                      `json:"status"`
	CreatedAt         time.Time                   `json:"created_ts"`
	TTLSeconds        int                         `json:"ttl_seconds"`
	EstimatedCostUSD  float64                     `json:"estimated_cost_usd,omitempty"`
}

// NewPending builds a fresh pending record with a generated ID.
// A zero ttl falls back to DefaultTTL.
func NewPending(tenant, requester, tool string, args map[string]any, required int, ttl time.Duration, now time.Time) *Pending {
	if required < 1 {
		required = 1
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Pending{
		ID:                uuid.NewString(),
		Tenant:            tenant,
		Requester:         requester,
		Tool:              tool,
		Arguments:         args,
		RequiredApprovals: required,
		Decisions:         map[string]ApproverDecision{},
		Status:            StatusPending,
		CreatedAt:         now.UTC(),
		TTLSeconds:        int(ttl / time.Second),
	}
}

// ExpiresAt is the instant after which no decision may land.
func (p *Pending) ExpiresAt() time.Time {
	return p.CreatedAt.Add(time.Duration(p.TTLSeconds) * time.Second)
}

// Expired reports whether the TTL has elapsed at now.
// The boundary instant itself still accepts decisions.
func (p *Pending) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt())
}

// Clone deep-copies the record so store snapshots cannot alias
// caller-held maps.
func (p *Pending) Clone() *Pending {
	out := *p
	out.Arguments = make(map[string]any, len(p.Arguments))
	for k, v := range p.Arguments {
		out.Arguments[k] = v
	}
	out.Decisions = make(map[string]ApproverDecision, len(p.Decisions))
	for k, v := range p.Decisions {
		out.Decisions[k] = v
	}
	return &out
}
