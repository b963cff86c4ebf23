package audit

import (
	"context"
	"time"
)

// Store persists the hash chain.
// Interface owned by domain per hexagonal architecture.
// Implementations serialize appends so the chain never forks: the entry
// and the advanced chain head are committed atomically.
type Store interface {
	// Append assigns the entry's ID, links it to the current head, and
	// persists entry + head together. The returned entry carries its
	// final ID, PrevHash, and Hash.
	Append(ctx context.Context, e Entry) (Entry, error)

	// Export returns entries with ts in [from, to] in chain order.
	Export(ctx context.Context, from, to time.Time) ([]Entry, error)

	// Head returns the current chain head hash (GenesisHash when empty).
	Head(ctx context.Context) (string, error)

	// Close flushes and releases resources.
	Close() error
}
