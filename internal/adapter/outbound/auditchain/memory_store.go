package auditchain

import (
	"context"
	"sync"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/audit"
)

// MemoryStore implements audit.Store in memory. For tests and runs that
// do not need the chain to survive the process.
type MemoryStore struct {
	mu      sync.Mutex
	entries []audit.Entry
	head    string
	closed  bool
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{head: audit.GenesisHash}
}

// Append links the entry to the current head and stores it.
func (s *MemoryStore) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audit.Entry{}, audit.ErrStoreClosed
	}

	e.ID = int64(len(s.entries)) + 1
	e.Timestamp = e.Timestamp.UTC()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.PrevHash = s.head
	hash, err := audit.ComputeHash(s.head, e)
	if err != nil {
		return audit.Entry{}, err
	}
	e.Hash = hash

	s.entries = append(s.entries, e)
	s.head = hash
	return e, nil
}

// Export returns entries with ts in [from, to] in chain order.
func (s *MemoryStore) Export(ctx context.Context, from, to time.Time) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Head returns the current chain head hash.
func (s *MemoryStore) Head(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Compile-time interface verification.
var _ audit.Store = (*MemoryStore)(nil)
