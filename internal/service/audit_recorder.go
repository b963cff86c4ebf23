// Package service contains the application services that wire the domain
// to the adapters: policy management, approvals, the audit chain writer,
// identity verification, admin operations, and the decision pipeline.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/audit"
)

// AuditRecorder serializes all appends through a single writer goroutine
// so the hash chain never forks. Every Record call blocks until its entry
// is durably appended: audit is load-bearing and a store failure fails the
// request, never drops the record.
type AuditRecorder struct {
	store  audit.Store
	reqs   chan appendReq
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	writes atomic.Uint64
}

type appendReq struct {
	ctx   context.Context
	entry audit.Entry
	reply chan appendResult
}

type appendResult struct {
	entry audit.Entry
	err   error
}

// NewAuditRecorder starts the writer goroutine over the given store.
func NewAuditRecorder(store audit.Store, logger *slog.Logger) *AuditRecorder {
	r := &AuditRecorder{
		store:  store,
		reqs:   make(chan appendReq, 64),
		logger: logger,
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

func (r *AuditRecorder) worker() {
	defer r.wg.Done()
	for req := range r.reqs {
		entry, err := r.store.Append(req.ctx, req.entry)
		if err != nil {
			r.logger.Error("audit append failed",
				slog.String("event", string(req.entry.Event)),
				slog.String("tenant", req.entry.Tenant),
				slog.String("error", err.Error()))
		}
		if err == nil {
			r.writes.Add(1)
		}
		req.reply <- appendResult{entry: entry, err: err}
	}
}

// Writes returns the number of entries appended since start. Exposed for
// the metrics endpoint.
func (r *AuditRecorder) Writes() uint64 {
	return r.writes.Load()
}

// Record appends one entry and returns it with its assigned ID and hash.
// The zero Timestamp is filled with the current time.
func (r *AuditRecorder) Record(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return audit.Entry{}, audit.ErrStoreClosed
	}
	req := appendReq{ctx: ctx, entry: e, reply: make(chan appendResult, 1)}
	r.reqs <- req
	r.mu.Unlock()

	select {
	case res := <-req.reply:
		return res.entry, res.err
	case <-ctx.Done():
		// The worker will still complete the append; the caller just
		// stops waiting for the ack.
		return audit.Entry{}, ctx.Err()
	}
}

// Export returns entries with ts in [from, to] in chain order.
func (r *AuditRecorder) Export(ctx context.Context, from, to time.Time) ([]audit.Entry, error) {
	return r.store.Export(ctx, from, to)
}

// Head returns the current chain head hash.
func (r *AuditRecorder) Head(ctx context.Context) (string, error) {
	return r.store.Head(ctx)
}

// Close drains in-flight appends and stops the writer. The underlying
// store is left to its owner.
func (r *AuditRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.reqs)
	r.mu.Unlock()
	r.wg.Wait()
}
