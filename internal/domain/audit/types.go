// Package audit contains the tamper-evident audit log domain: hash-chained
// entries, chain verification, and the store contract.
package audit

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Event names every recorded outcome. The set covers decision outcomes,
// approval activity, and administrative changes.
type Event string

const (
	EventAllow             Event = "allow"
	EventDeny              Event = "deny"
	EventRateLimited       Event = "rate_limited"
	EventBudgetExceeded    Event = "budget_exceeded"
	EventApprovalRequested Event = "approval_requested"
	EventApprovalDecision  Event = "approval_decision"
	EventApprovalResolved  Event = "approval_resolved"
	EventBundleApplied     Event = "bundle_applied"
	EventBundleApplyFailed Event = "bundle_apply_failed"
	EventBundleRolledBack  Event = "bundle_rolled_back"
	EventRBACChanged       Event = "rbac_changed"
	EventQuotaChanged      Event = "quota_changed"
	EventRateLimitChanged  Event = "rate_limit_changed"
)

var (
	// ErrChainBroken is returned when verification finds a link whose
	// prev_hash does not equal the previous entry's hash.
	ErrChainBroken = errors.New("audit chain broken")
	// ErrHashMismatch is returned when an entry's stored hash does not
	// match its recomputed hash.
	ErrHashMismatch = errors.New("audit entry hash mismatch")
	// ErrStoreClosed is returned for appends after shutdown.
	ErrStoreClosed = errors.New("audit store closed")
)

// Entry is one append-only audit record. ID is assigned monotonically by
// the store; PrevHash and Hash chain the entry to its predecessor.
type Entry struct {
	ID         int64             `json:"id"`
	Timestamp  time.Time         `json:"ts"`
	Event      Event             `json:"event"`
	Tenant     string            `json:"tenant"`
	Subject    string            `json:"subject"`
	Tool       string            `json:"tool,omitempty"`
	Decision   string            `json:"decision,omitempty"`
	Rule       string            `json:"rule,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	ArgsDigest string            `json:"args_digest,omitempty"`
	ResultMeta map[string]string `json:"result_meta,omitempty"`
	Approver   string            `json:"approver,omitempty"`
	PrevHash   string            `json:"prev_hash"`
	Hash       string            `json:"hash"`
}

// GenesisHash anchors the chain before the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// chainedFields is the hashed subset of an entry. The stored hash and
// the store-assigned ID are excluded; everything else is covered.
type chainedFields struct {
	ID         int64             `json:"id"`
	Timestamp  string            `json:"ts"`
	Event      Event             `json:"event"`
	Tenant     string            `json:"tenant"`
	Subject    string            `json:"subject"`
	Tool       string            `json:"tool,omitempty"`
	Decision   string            `json:"decision,omitempty"`
	Rule       string            `json:"rule,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	ArgsDigest string            `json:"args_digest,omitempty"`
	ResultMeta map[string]string `json:"result_meta,omitempty"`
	Approver   string            `json:"approver,omitempty"`
}

// ComputeHash derives the entry's chain hash: SHA-256 over the previous
// hash concatenated with the RFC 8785 canonical JSON of the entry's
// fields. Canonicalization makes the hash independent of map ordering
// and encoder whitespace.
func ComputeHash(prevHash string, e Entry) (string, error) {
	fields := chainedFields{
		ID:         e.ID,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		Event:      e.Event,
		Tenant:     e.Tenant,
		Subject:    e.Subject,
		Tool:       e.Tool,
		Decision:   e.Decision,
		Rule:       e.Rule,
		RequestID:  e.RequestID,
		ArgsDigest: e.ArgsDigest,
		ResultMeta: e.ResultMeta,
		Approver:   e.Approver,
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal audit fields: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit fields: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestArgs fingerprints tool arguments for the audit record without
// storing the arguments themselves.
func DigestArgs(args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Verify walks entries in chain order, recomputing every hash and link.
// The first entry must chain from GenesisHash unless the caller passes
// the head the export started from.
func Verify(entries []Entry, startHash string) error {
	if startHash == "" {
		startHash = GenesisHash
	}
	prev := startHash
	for i, e := range entries {
		if subtle.ConstantTimeCompare([]byte(e.PrevHash), []byte(prev)) != 1 {
			return fmt.Errorf("%w: entry %d prev_hash %s, want %s", ErrChainBroken, i, e.PrevHash, prev)
		}
		want, err := ComputeHash(prev, e)
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare([]byte(e.Hash), []byte(want)) != 1 {
			return fmt.Errorf("%w: entry %d", ErrHashMismatch, i)
		}
		prev = e.Hash
	}
	return nil
}
