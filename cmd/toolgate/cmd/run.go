package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toolgate-dev/toolgate/internal/adapter/inbound/rpc"
	"github.com/toolgate-dev/toolgate/internal/adapter/inbound/stdio"
	"github.com/toolgate-dev/toolgate/internal/config"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve MCP over stdin/stdout",
	Long: `Serve MCP over stdin/stdout for a single local agent.

The pipe carries no bearer tokens, so every call runs as the principal
configured under stdio.tenant / stdio.subject. Logs go to stderr;
stdout carries only the MCP stream.

Example:
  toolgate run --dev`,
	RunE: runStdio,
}

var runDevMode bool

func init() {
	runCmd.Flags().BoolVar(&runDevMode, "dev", false, "Enable development mode (debug logging, generated secrets)")
	rootCmd.AddCommand(runCmd)
}

func runStdio(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigWithFlags(runDevMode)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	if file := config.ConfigFileUsed(); file != "" {
		logger.Info("loaded config", "file", file)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	dispatcher := rpc.NewDispatcher(gw.pipeline, gw.registry, nil, logger, "toolgate", Version)
	principal := identity.Principal{
		Tenant:  cfg.Stdio.Tenant,
		Subject: cfg.Stdio.Subject,
	}

	transport := stdio.NewTransport(dispatcher, principal, stdio.WithLogger(logger))
	if err := transport.Start(ctx); err != nil {
		return err
	}

	logger.Info("toolgate stopped")
	return nil
}
