package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/toolgate-dev/toolgate/internal/adapter/inbound/admin"
	gatehttp "github.com/toolgate-dev/toolgate/internal/adapter/inbound/http"
	"github.com/toolgate-dev/toolgate/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Start the Toolgate HTTP gateway.

Serves MCP JSON-RPC on /mcp, the admin and policy APIs under /admin and
/v1/policy, approval callbacks on /approvals/callback, the audit export
on /v1/audit, and Prometheus metrics on /metrics.

Examples:
  # Development mode: permissive defaults, debug logging
  toolgate serve --dev

  # Production with an explicit config file
  toolgate --config /etc/toolgate/toolgate.yaml serve`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, generated secrets)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigWithFlags(devMode)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	if file := config.ConfigFileUsed(); file != "" {
		logger.Info("loaded config", "file", file)
	}
	if cfg.DevMode {
		logger.Warn("dev mode enabled; generated secrets are not safe for production")
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := gatehttp.NewMetrics(reg)

	adminHandler := admin.NewHandler(gw.admin, gw.policies, gw.approvals, gw.verifier, gw.signer,
		admin.WithPendingObserver(metrics),
		admin.WithLogger(logger),
	)

	transport := gatehttp.NewTransport(gw.pipeline, gw.registry, gw.verifier, gw.auditor,
		gatehttp.WithAddr(cfg.Server.HTTPAddr),
		gatehttp.WithLogger(logger),
		gatehttp.WithAdminHandler(adminHandler),
		gatehttp.WithMetrics(reg, metrics),
		gatehttp.WithServerInfo("toolgate", Version),
	)

	if err := transport.Start(ctx); err != nil {
		return err
	}

	logger.Info("toolgate stopped")
	return nil
}
