package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/toolgate-dev/toolgate/internal/domain/approval"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStoredPending(t *testing.T, s *ApprovalStore, required int) *approval.Pending {
	t.Helper()
	p := approval.NewPending("acme", "agent-1", "fs.write",
		map[string]any{"path": "/etc/hosts"}, required, approval.DefaultTTL, time.Now())
	stored, err := s.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return stored
}

func TestApprovalStore_CreateIdempotent(t *testing.T) {
	t.Parallel()

	s := NewApprovalStore()
	defer s.Close()
	ctx := context.Background()

	p := newStoredPending(t, s, 2)
	s.RecordDecision(ctx, p.ID, "alice", approval.Approve)

	// Re-creating the same ID returns the stored record, decisions intact.
	again, err := s.Create(ctx, p)
	if err != nil {
		t.Fatalf("Create() again error = %v", err)
	}
	if len(again.Decisions) != 1 {
		t.Errorf("re-create wiped decisions: %+v", again.Decisions)
	}
}

func TestApprovalStore_WaitSeesDecisionBeforeSubscribe(t *testing.T) {
	t.Parallel()

	s := NewApprovalStore()
	defer s.Close()
	ctx := context.Background()

	p := newStoredPending(t, s, 1)
	if _, err := s.RecordDecision(ctx, p.ID, "alice", approval.Approve); err != nil {
		t.Fatalf("RecordDecision() error = %v", err)
	}

	// Already terminal: the wait returns immediately without blocking.
	start := time.Now()
	status, err := s.WaitForResolution(ctx, p.ID, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForResolution() error = %v", err)
	}
	if status != approval.StatusAllow {
		t.Errorf("status = %q, want allow", status)
	}
	if time.Since(start) > time.Second {
		t.Error("wait blocked on an already-terminal record")
	}
}

func TestApprovalStore_WaitWakesOnDecision(t *testing.T) {
	t.Parallel()

	s := NewApprovalStore()
	defer s.Close()
	ctx := context.Background()

	p := newStoredPending(t, s, 1)

	decided := make(chan struct{})
	go func() {
		defer close(decided)
		time.Sleep(20 * time.Millisecond)
		s.RecordDecision(ctx, p.ID, "alice", approval.Deny)
	}()

	status, err := s.WaitForResolution(ctx, p.ID, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForResolution() error = %v", err)
	}
	if status != approval.StatusDeny {
		t.Errorf("status = %q, want deny", status)
	}
	<-decided
}

func TestApprovalStore_WaitTimeoutReturnsPending(t *testing.T) {
	t.Parallel()

	s := NewApprovalStore()
	defer s.Close()

	p := newStoredPending(t, s, 2)
	status, err := s.WaitForResolution(context.Background(), p.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForResolution() error = %v", err)
	}
	if status != approval.StatusPending {
		t.Errorf("status after timeout = %q, want pending", status)
	}
}

func TestApprovalStore_RecordAfterTTL(t *testing.T) {
	t.Parallel()

	clock := time.Now()
	s := NewApprovalStore().WithClock(func() time.Time { return clock })
	defer s.Close()
	ctx := context.Background()

	p := newStoredPending(t, s, 1)
	clock = clock.Add(approval.DefaultTTL + time.Second)

	got, err := s.RecordDecision(ctx, p.ID, "alice", approval.Approve)
	if !errors.Is(err, approval.ErrExpired) {
		t.Fatalf("RecordDecision() after TTL error = %v, want ErrExpired", err)
	}
	if got.Status != approval.StatusExpired {
		t.Errorf("status = %q, want expired", got.Status)
	}
}

func TestApprovalStore_NotFound(t *testing.T) {
	t.Parallel()

	s := NewApprovalStore()
	defer s.Close()

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.RecordDecision(context.Background(), "missing", "a", approval.Approve); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("RecordDecision(missing) error = %v, want ErrNotFound", err)
	}
}

func TestApprovalStore_ListPending(t *testing.T) {
	t.Parallel()

	s := NewApprovalStore()
	defer s.Close()
	ctx := context.Background()

	open := newStoredPending(t, s, 2)
	settled := newStoredPending(t, s, 1)
	s.RecordDecision(ctx, settled.ID, "alice", approval.Approve)

	got, err := s.ListPending(ctx, "acme")
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != open.ID {
		t.Errorf("ListPending() = %+v, want only the open record", got)
	}
}
