package approval

import (
	"context"
	"time"
)

// Store persists pending approvals.
// Interface owned by domain per hexagonal architecture.
// Implementations guarantee per-ID atomicity of RecordDecision and
// publish terminal transitions so waiters wake promptly.
type Store interface {
	// Create writes a new pending record with its TTL.
	// Creating the same ID again is idempotent and returns the stored record.
	Create(ctx context.Context, p *Pending) (*Pending, error)

	// Get returns a snapshot of the record, or ErrNotFound.
	Get(ctx context.Context, id string) (*Pending, error)

	// RecordDecision atomically applies one approver's verdict and
	// returns the resulting record. Terminal records are frozen; the
	// call then returns the settled record without error. Decisions
	// after the TTL return ErrExpired.
	RecordDecision(ctx context.Context, id, approver string, action DecisionAction) (*Pending, error)

	// WaitForResolution blocks until the record reaches a terminal
	// status or the timeout elapses. It subscribes before re-reading
	// state so a transition between the two is never missed. A timeout
	// returns StatusPending, not an error.
	WaitForResolution(ctx context.Context, id string, timeout time.Duration) (Status, error)

	// ListPending returns non-terminal records for a tenant.
	ListPending(ctx context.Context, tenant string) ([]*Pending, error)

	// Close releases resources.
	Close() error
}
