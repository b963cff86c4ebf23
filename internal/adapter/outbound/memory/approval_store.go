package memory

import (
	"context"
	"sync"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/approval"
)

// ApprovalStore implements approval.Store in memory. Terminal transitions
// are broadcast by closing a per-record channel, which gives waiters the
// same subscribe-then-read guarantee as the pub/sub backed store.
type ApprovalStore struct {
	mu      sync.Mutex
	records map[string]*approval.Pending
	done    map[string]chan struct{}
	closed  bool
	now     func() time.Time
}

// NewApprovalStore creates an empty in-memory approval store.
func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{
		records: make(map[string]*approval.Pending),
		done:    make(map[string]chan struct{}),
		now:     time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *ApprovalStore) WithClock(now func() time.Time) *ApprovalStore {
	s.now = now
	return s
}

// Create writes a new pending record. Creating the same ID again is
// idempotent and returns the stored record unchanged.
func (s *ApprovalStore) Create(ctx context.Context, p *approval.Pending) (*approval.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[p.ID]; ok {
		return existing.Clone(), nil
	}
	stored := p.Clone()
	s.records[p.ID] = stored
	s.done[p.ID] = make(chan struct{})
	return stored.Clone(), nil
}

// Get returns a snapshot of the record.
func (s *ApprovalStore) Get(ctx context.Context, id string) (*approval.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[id]
	if !ok {
		return nil, approval.ErrNotFound
	}
	return p.Clone(), nil
}

// RecordDecision atomically applies one approver's verdict.
func (s *ApprovalStore) RecordDecision(ctx context.Context, id, approver string, action approval.DecisionAction) (*approval.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[id]
	if !ok {
		return nil, approval.ErrNotFound
	}
	wasTerminal := p.Status.Terminal()
	status, err := approval.ApplyDecision(p, approver, action, s.now())
	if status.Terminal() && !wasTerminal {
		if ch, ok := s.done[id]; ok {
			close(ch)
		}
	}
	if err != nil {
		return p.Clone(), err
	}
	return p.Clone(), nil
}

// WaitForResolution blocks until the record settles or the timeout fires.
// The done channel is captured before re-reading state, so a transition
// between the read and the wait cannot be lost.
func (s *ApprovalStore) WaitForResolution(ctx context.Context, id string, timeout time.Duration) (approval.Status, error) {
	s.mu.Lock()
	p, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return "", approval.ErrNotFound
	}
	ch := s.done[id]
	status := approval.TallyStatus(p, s.now())
	s.mu.Unlock()

	if status.Terminal() {
		return status, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		s.mu.Lock()
		status = s.records[id].Status
		s.mu.Unlock()
		return status, nil
	case <-timer.C:
		return approval.StatusPending, nil
	case <-ctx.Done():
		return approval.StatusPending, ctx.Err()
	}
}

// ListPending returns non-terminal records for a tenant.
func (s *ApprovalStore) ListPending(ctx context.Context, tenant string) ([]*approval.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*approval.Pending
	now := s.now()
	for _, p := range s.records {
		if p.Tenant != tenant {
			continue
		}
		if approval.TallyStatus(p, now) == approval.StatusPending {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

// Close releases resources.
func (s *ApprovalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return nil
}

// Compile-time interface verification.
var _ approval.Store = (*ApprovalStore)(nil)
