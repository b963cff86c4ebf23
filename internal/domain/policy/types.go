// Package policy contains domain types for bundle-based policy evaluation.
package policy

import (
	"errors"
	"time"
)

// Action represents the result of a policy rule evaluation.
type Action string

const (
	// ActionAllow permits the tool call to proceed.
	ActionAllow Action = "allow"
	// ActionDeny blocks the tool call.
	ActionDeny Action = "deny"
	// ActionApproval pauses the tool call pending human approval.
	ActionApproval Action = "approval"
)

// Sentinel errors for bundle loading and registration.
var (
	// ErrMalformed is returned when a bundle cannot be parsed.
	ErrMalformed = errors.New("policy bundle malformed")
	// ErrInvalid is returned when a bundle parses but violates the schema
	// (unknown predicate, bad action, missing fields).
	ErrInvalid = errors.New("policy bundle invalid")
	// ErrSignatureInvalid is returned when a bundle signature does not verify.
	ErrSignatureInvalid = errors.New("policy signature invalid")
	// ErrVersionConflict is returned when a version ID is already registered
	// with different content.
	ErrVersionConflict = errors.New("policy version conflict")
	// ErrVersionNotFound is returned when a referenced version is unknown.
	ErrVersionNotFound = errors.New("policy version not found")
)

// ToolCall is a single tool invocation being decided.
// Immutable once constructed by the transport.
type ToolCall struct {
	// Tenant is the tenant the caller belongs to.
	Tenant string
	// Subject is the agent or user ID making the call.
	Subject string
	// Tool is the tool name (e.g. "net.http", "fs.write").
	Tool string
	// Arguments are the structured tool arguments.
	Arguments map[string]any
	// RequestID is the JSON-RPC correlation ID, unique per call.
	RequestID string
	// ReceivedAt is when the transport accepted the call.
	ReceivedAt time.Time
}

// Rule is a single ordered rule inside a bundle.
type Rule struct {
	// Name is a human-readable identifier for the rule.
	Name string
	// Match is the tool name this rule applies to; exact or glob ("fs.*").
	Match string
	// Where is the compiled predicate set; all must hold (implicit AND).
	Where []Predicate
	// Action is the verdict when the rule matches.
	Action Action
	// Reason explains the verdict to the caller.
	Reason string
	// RequiredApprovals is the dual-control quorum (N-of-M); minimum 1.
	RequiredApprovals int
	// ApproverGroup optionally restricts who may decide the approval.
	ApproverGroup string
}

// Defaults holds the bundle-level fallback when no rule matches.
type Defaults struct {
	// Decision applies when no rule matches. Fail-closed: deny.
	Decision Action
}

// Bundle is an immutable, compiled policy bundle.
// A new version replaces the previous one by atomic pointer swap; bundles
// are never mutated after load.
type Bundle struct {
	// Version is the stable version ID assigned at registration.
	Version string
	// SHA256 is the digest of the raw bundle bytes.
	SHA256 [32]byte
	// SignedAt is the signature creation time, when signed.
	SignedAt time.Time
	// Defaults is the fallback decision.
	Defaults Defaults
	// Rules are evaluated first-match in file order.
	Rules []Rule
}

// Check is a single predicate explanation inside a trace entry.
type Check struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

// TraceEntry records the outcome of one attempted rule.
type TraceEntry struct {
	Rule    string  `json:"rule"`
	Matched bool    `json:"matched"`
	Explain []Check `json:"explain,omitempty"`
}

// Decision is the evaluator's verdict for one tool call.
// It is a pure function of (ToolCall, Bundle).
type Decision struct {
	// Decision is allow, deny, or approval.
	Decision Action `json:"decision"`
	// RuleName is the name of the matching rule, or "__default__".
	RuleName string `json:"rule,omitempty"`
	// Reason explains the verdict.
	Reason string `json:"reason,omitempty"`
	// RequiredApprovals is the quorum for approval decisions.
	RequiredApprovals int `json:"required_approvals,omitempty"`
	// ApproverGroup restricts who may decide, when set.
	ApproverGroup string `json:"approver_group,omitempty"`
	// Trace lists every rule attempted up to and including the match.
	Trace []TraceEntry `json:"trace"`
}

// DefaultRuleName labels the implicit default rule in decisions and traces.
const DefaultRuleName = "__default__"
