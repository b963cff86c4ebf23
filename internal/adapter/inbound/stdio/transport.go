// Package stdio provides the stdio transport adapter for the gateway:
// newline-delimited JSON-RPC 2.0 on stdin/stdout, logs on stderr.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/toolgate-dev/toolgate/internal/adapter/inbound/rpc"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/domain/mcp"
	"github.com/toolgate-dev/toolgate/internal/port/inbound"
)

// maxLineBytes bounds one JSON-RPC message on the pipe.
const maxLineBytes = 1 << 20

// Transport is the inbound adapter that serves the gateway on a byte
// stream. There is no bearer token on the pipe: the caller supplies the
// principal for the whole session, typically a dev identity from config.
type Transport struct {
	dispatcher *rpc.Dispatcher
	principal  identity.Principal
	in         io.Reader
	out        io.Writer
	logger     *slog.Logger
	workers    int

	writeMu sync.Mutex
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithStreams replaces stdin/stdout, primarily for tests.
func WithStreams(in io.Reader, out io.Writer) Option {
	return func(t *Transport) {
		t.in = in
		t.out = out
	}
}

// WithLogger sets the logger for the stdio transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithWorkers sets how many requests are handled concurrently.
// Default is 4.
func WithWorkers(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.workers = n
		}
	}
}

// NewTransport creates a stdio transport over the shared dispatcher.
func NewTransport(dispatcher *rpc.Dispatcher, principal identity.Principal, opts ...Option) *Transport {
	t := &Transport{
		dispatcher: dispatcher,
		principal:  principal,
		in:         os.Stdin,
		out:        os.Stdout,
		logger:     slog.Default(),
		workers:    4,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start reads newline-delimited requests until EOF or context
// cancellation. Requests are handled by a small worker pool; replies
// are written one JSON document per line in completion order.
func (t *Transport) Start(ctx context.Context) error {
	jobs := make(chan []byte)

	var wg sync.WaitGroup
	for i := 0; i < t.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for line := range jobs {
				t.handleLine(ctx, line)
			}
		}()
	}

	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var scanErr error
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		line := make([]byte, len(raw))
		copy(line, raw)

		select {
		case jobs <- line:
		case <-ctx.Done():
			scanErr = ctx.Err()
		}
		if scanErr != nil {
			break
		}
	}
	if scanErr == nil {
		scanErr = scanner.Err()
	}

	close(jobs)
	wg.Wait()

	if scanErr != nil {
		t.logger.Info("stdio transport stopped", "reason", scanErr.Error())
	}
	return scanErr
}

func (t *Transport) handleLine(ctx context.Context, line []byte) {
	var req mcp.Request
	if err := json.Unmarshal(line, &req); err != nil {
		t.write(mcp.NewErrorResponse(nil, mcp.CodeParseError, "parse error"))
		return
	}

	resp := t.dispatcher.Handle(ctx, t.principal, &req)
	if resp == nil {
		// Notification.
		return
	}
	t.write(resp)
}

// write emits one reply line. The encoder appends the newline.
func (t *Transport) write(resp *mcp.Response) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := json.NewEncoder(t.out).Encode(resp); err != nil {
		t.logger.Error("stdio write failed", "error", err)
	}
}

// Close gracefully shuts down the transport. Stdio holds no resources
// beyond the streams owned by the caller.
func (t *Transport) Close() error {
	return nil
}

var _ inbound.Transport = (*Transport)(nil)
