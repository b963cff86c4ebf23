package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/auditchain"
	bundlestore "github.com/toolgate-dev/toolgate/internal/adapter/outbound/bundle"
	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/notify"
	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/redisstore"
	"github.com/toolgate-dev/toolgate/internal/config"
	"github.com/toolgate-dev/toolgate/internal/domain/approval"
	"github.com/toolgate-dev/toolgate/internal/domain/audit"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/domain/ledger"
	"github.com/toolgate-dev/toolgate/internal/domain/tool"
	"github.com/toolgate-dev/toolgate/internal/port/outbound"
	"github.com/toolgate-dev/toolgate/internal/service"
)

// gateway holds the wired core services shared by the HTTP and stdio
// entry points.
type gateway struct {
	auditor   *service.AuditRecorder
	policies  *service.PolicyManager
	approvals *service.ApprovalService
	pipeline  *service.Pipeline
	admin     *service.AdminService
	registry  *tool.Registry
	verifier  identity.Verifier
	signer    *notify.TokenSigner

	closers []func() error
}

// Close releases the gateway's resources in reverse wiring order. The
// audit recorder drains its queue first so late entries still land in a
// store that is open.
func (g *gateway) Close() {
	g.auditor.Close()
	for i := len(g.closers) - 1; i >= 0; i-- {
		_ = g.closers[i]()
	}
}

// buildGateway wires every core service from the validated config. The
// returned gateway must be Closed by the caller.
func buildGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	g := &gateway{registry: tool.Builtins()}

	auditStore, err := g.buildAuditStore(cfg)
	if err != nil {
		return nil, err
	}
	g.auditor = service.NewAuditRecorder(auditStore, logger)

	rates, budgets, approvalStore, roleStore, err := g.buildCoordination(cfg)
	if err != nil {
		return nil, err
	}

	if err := g.buildPolicies(ctx, cfg, logger); err != nil {
		return nil, err
	}

	var notifier outbound.ApprovalNotifier
	if cfg.Approvals.SlackWebhookURL != "" {
		notifier = notify.NewSlackNotifier(cfg.Approvals.SlackWebhookURL, logger)
	}
	g.signer = notify.NewTokenSigner(cfg.Approvals.CallbackSigningSecret)
	baseURL := cfg.Approvals.CallbackBaseURL
	if baseURL == "" {
		baseURL = "http://" + cfg.Server.HTTPAddr
	}
	g.approvals = service.NewApprovalService(
		approvalStore, g.auditor, notifier, g.signer, baseURL,
		time.Duration(cfg.Approvals.TTLSeconds)*time.Second, logger)

	g.pipeline = service.NewPipeline(
		g.policies, g.approvals, rates, budgets, g.auditor, g.registry,
		time.Duration(cfg.Approvals.SyncWaitMS)*time.Millisecond, logger)

	g.admin = service.NewAdminService(rates, budgets, roleStore, g.auditor, logger)

	switch cfg.Auth.Mode {
	case "oidc":
		g.verifier = service.NewOIDCVerifier(
			cfg.Auth.OIDCIssuer, cfg.Auth.OIDCJWKSURL, cfg.Auth.OIDCAudience,
			roleStore, logger)
	default:
		g.verifier = service.NewDevVerifier(
			cfg.Auth.DevJWTSecret, cfg.Auth.DevIssuer, roleStore, logger)
	}

	return g, nil
}

func (g *gateway) buildAuditStore(cfg *config.Config) (audit.Store, error) {
	switch cfg.Audit.Backend {
	case "sqlite":
		store, err := auditchain.OpenSQLite(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		g.closers = append(g.closers, store.Close)
		return store, nil
	default:
		return auditchain.NewMemoryStore(), nil
	}
}

func (g *gateway) buildCoordination(cfg *config.Config) (ledger.RateStore, ledger.BudgetStore, approval.Store, identity.RoleStore, error) {
	if cfg.Store.Backend == "redis" {
		client, err := redisstore.NewClient(cfg.Store.CoordinatorURL)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connect coordinator: %w", err)
		}
		g.closers = append(g.closers, client.Close)
		l := redisstore.NewLedger(client)
		return l, l, redisstore.NewApprovalStore(client), redisstore.NewRoleStore(client), nil
	}
	l := memory.NewLedger()
	return l, l, memory.NewApprovalStore(), memory.NewRoleStore(), nil
}

func (g *gateway) buildPolicies(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := bundlestore.NewStore(cfg.Policy.Dir)
	if err != nil {
		return fmt.Errorf("open bundle store: %w", err)
	}

	var pubKey []byte
	if cfg.Policy.PublicKeyB64 != "" {
		pubKey, err = bundlestore.ParsePublicKey(cfg.Policy.PublicKeyB64)
		if err != nil {
			return fmt.Errorf("policy public key: %w", err)
		}
	}

	g.policies, err = service.NewPolicyManager(store, pubKey, cfg.Policy.RequireSignature, g.auditor, logger)
	if err != nil {
		return fmt.Errorf("init policy manager: %w", err)
	}

	if cfg.Policy.File != "" {
		if err := g.applyStartupBundle(ctx, cfg); err != nil {
			return err
		}
		logger.Info("applied startup policy bundle", "file", cfg.Policy.File)
	}
	return nil
}

// applyStartupBundle registers and activates the configured bundle file
// so the gateway never starts with policy.file set but no policy loaded.
func (g *gateway) applyStartupBundle(ctx context.Context, cfg *config.Config) error {
	raw, err := os.ReadFile(cfg.Policy.File)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	req := service.ApplyRequest{Raw: raw, Strategy: service.StrategyActive}
	if cfg.Policy.SigPath != "" {
		sig, err := bundlestore.ReadSignature(cfg.Policy.SigPath)
		if err != nil {
			return fmt.Errorf("read policy signature: %w", err)
		}
		req.Sig = &sig
	}

	actor := identity.Principal{Tenant: "system", Subject: "startup"}
	if _, err := g.policies.Apply(ctx, actor, req); err != nil {
		return fmt.Errorf("apply startup bundle: %w", err)
	}
	return nil
}

// newLogger builds the process logger. Output goes to stderr so stdout
// stays reserved for the MCP stream in stdio mode.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfigWithFlags applies the --dev flag on top of the raw config,
// then finalizes dev defaults and validates.
func loadConfigWithFlags(dev bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
