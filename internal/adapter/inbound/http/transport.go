package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/toolgate-dev/toolgate/internal/adapter/inbound/rpc"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/domain/tool"
	"github.com/toolgate-dev/toolgate/internal/port/inbound"
	"github.com/toolgate-dev/toolgate/internal/service"
)

// Transport is the inbound adapter that serves the gateway over HTTP:
// JSON-RPC on /mcp plus the audit export, health, and metrics endpoints.
// Admin and policy routes mount through an extra handler so the admin
// adapter stays independent of this package.
type Transport struct {
	pipeline     *service.Pipeline
	registry     *tool.Registry
	verifier     identity.Verifier
	auditor      *service.AuditRecorder
	server       *http.Server
	addr         string
	logger       *slog.Logger
	adminHandler http.Handler
	promReg      *prometheus.Registry
	metrics      *Metrics
	serverName   string
	version      string
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithAdminHandler mounts an extra handler on the admin, policy, and
// approval-callback routes.
func WithAdminHandler(h http.Handler) Option {
	return func(t *Transport) {
		t.adminHandler = h
	}
}

// WithMetrics supplies a pre-built registry and metrics set, letting the
// caller share the metrics instance with other components. When not set,
// Start builds its own.
func WithMetrics(reg *prometheus.Registry, m *Metrics) Option {
	return func(t *Transport) {
		t.promReg = reg
		t.metrics = m
	}
}

// WithServerInfo sets the name and version reported by initialize.
func WithServerInfo(name, version string) Option {
	return func(t *Transport) {
		t.serverName = name
		t.version = version
	}
}

// NewTransport creates an HTTP transport over the decision pipeline.
func NewTransport(pipeline *service.Pipeline, registry *tool.Registry, verifier identity.Verifier, auditor *service.AuditRecorder, opts ...Option) *Transport {
	t := &Transport{
		pipeline:   pipeline,
		registry:   registry,
		verifier:   verifier,
		auditor:    auditor,
		addr:       "127.0.0.1:8080",
		logger:     slog.Default(),
		serverName: "toolgate",
		version:    "dev",
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start begins accepting HTTP connections and serving JSON-RPC requests.
// It blocks until the context is cancelled or an error occurs.
func (t *Transport) Start(ctx context.Context) error {
	root := t.buildHandler()

	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// buildHandler assembles the mux and middleware chain.
func (t *Transport) buildHandler() http.Handler {
	if t.metrics == nil {
		t.promReg = prometheus.NewRegistry()
		t.promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		t.metrics = NewMetrics(t.promReg)
	}
	registerAuditWrites(t.promReg, t.auditor.Writes)

	dispatcher := rpc.NewDispatcher(t.pipeline, t.registry, t.metrics, t.logger, t.serverName, t.version)

	// Middleware order (outermost first): metrics, request ID, bearer auth.
	var handler http.Handler = mcpHandler(dispatcher)
	handler = BearerAuthMiddleware(t.verifier)(handler)

	var auditHandler http.Handler = auditExportHandler(t.auditor)
	auditHandler = BearerAuthMiddleware(t.verifier)(auditHandler)

	health := NewHealthChecker(t.auditor, t.version)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.Handle("/v1/audit", auditHandler)
	mux.Handle("/healthz", health.LivenessHandler())
	mux.Handle("/readyz", health.ReadinessHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(t.promReg, promhttp.HandlerOpts{
		Registry: t.promReg,
	}))
	if t.adminHandler != nil {
		mux.Handle("/admin/", t.adminHandler)
		mux.Handle("/v1/policy/", t.adminHandler)
		mux.Handle("/approvals/callback", t.adminHandler)
		mux.Handle("/approvals/", t.adminHandler)
	}

	root := RequestIDMiddleware(t.logger)(mux)
	return MetricsMiddleware(t.metrics)(root)
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}

var _ inbound.Transport = (*Transport)(nil)
