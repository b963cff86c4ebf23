package auditchain

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/audit"
)

func openStores(t *testing.T) map[string]audit.Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	stores := map[string]audit.Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func sampleEntry(event audit.Event, at time.Time) audit.Entry {
	return audit.Entry{
		Timestamp: at,
		Event:     event,
		Tenant:    "acme",
		Subject:   "agent-1",
		Tool:      "net.http",
		Decision:  "allow",
		Rule:      "Allow intranet HTTP",
		RequestID: "req-1",
	}
}

func TestStore_ChainAdvances(t *testing.T) {
	t.Parallel()

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

			first, err := s.Append(ctx, sampleEntry(audit.EventAllow, base))
			if err != nil {
				t.Fatalf("Append() error = %v", err)
			}
			if first.ID != 1 || first.PrevHash != audit.GenesisHash {
				t.Errorf("first entry = id %d prev %s, want 1 from genesis", first.ID, first.PrevHash)
			}

			second, err := s.Append(ctx, sampleEntry(audit.EventDeny, base.Add(time.Second)))
			if err != nil {
				t.Fatalf("Append() error = %v", err)
			}
			if second.ID != 2 {
				t.Errorf("second entry id = %d, want 2", second.ID)
			}
			if second.PrevHash != first.Hash {
				t.Errorf("chain link broken: prev %s, want %s", second.PrevHash, first.Hash)
			}

			head, err := s.Head(ctx)
			if err != nil {
				t.Fatalf("Head() error = %v", err)
			}
			if head != second.Hash {
				t.Errorf("head = %s, want %s", head, second.Hash)
			}
		})
	}
}

func TestStore_ExportVerifies(t *testing.T) {
	t.Parallel()

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

			events := []audit.Event{audit.EventAllow, audit.EventApprovalRequested, audit.EventApprovalDecision, audit.EventApprovalResolved}
			for i, ev := range events {
				e := sampleEntry(ev, base.Add(time.Duration(i)*time.Second))
				e.ResultMeta = map[string]string{"seq": string(rune('a' + i))}
				if _, err := s.Append(ctx, e); err != nil {
					t.Fatalf("Append(%s) error = %v", ev, err)
				}
			}

			entries, err := s.Export(ctx, base, base.Add(time.Hour))
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			if len(entries) != len(events) {
				t.Fatalf("exported %d entries, want %d", len(entries), len(events))
			}
			if err := audit.Verify(entries, ""); err != nil {
				t.Errorf("exported chain does not verify: %v", err)
			}
		})
	}
}

func TestStore_ExportTimeRange(t *testing.T) {
	t.Parallel()

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

			for i := 0; i < 5; i++ {
				if _, err := s.Append(ctx, sampleEntry(audit.EventAllow, base.Add(time.Duration(i)*time.Minute))); err != nil {
					t.Fatalf("Append() error = %v", err)
				}
			}
			entries, err := s.Export(ctx, base.Add(time.Minute), base.Add(3*time.Minute))
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			if len(entries) != 3 {
				t.Fatalf("exported %d entries, want 3", len(entries))
			}
			// A slice out of the middle verifies against the head it follows.
			if err := audit.Verify(entries, entries[0].PrevHash); err != nil {
				t.Errorf("range export does not verify: %v", err)
			}
		})
	}
}

func TestStore_AppendAfterClose(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	s.Close()
	if _, err := s.Append(context.Background(), sampleEntry(audit.EventAllow, time.Now())); !errors.Is(err, audit.ErrStoreClosed) {
		t.Errorf("Append() after close error = %v, want ErrStoreClosed", err)
	}
}

func TestSQLiteStore_HeadSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	first, err := s.Append(ctx, sampleEntry(audit.EventAllow, time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	s.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() reopen error = %v", err)
	}
	defer reopened.Close()

	head, err := reopened.Head(ctx)
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head != first.Hash {
		t.Errorf("head after reopen = %s, want %s", head, first.Hash)
	}
	second, err := reopened.Append(ctx, sampleEntry(audit.EventDeny, time.Date(2026, 8, 25, 10, 1, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Append() after reopen error = %v", err)
	}
	if second.ID != 2 || second.PrevHash != first.Hash {
		t.Errorf("chain did not continue across reopen: %+v", second)
	}
}
