package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/toolgate-dev/toolgate/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{DevMode: true}
	cfg.Policy.Dir = t.TempDir()
	cfg.SetDefaults()
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildGateway_MemoryBackends(t *testing.T) {
	gw, err := buildGateway(context.Background(), testConfig(t), discardLogger())
	if err != nil {
		t.Fatalf("buildGateway() error = %v", err)
	}
	defer gw.Close()

	if gw.pipeline == nil || gw.admin == nil || gw.verifier == nil || gw.signer == nil {
		t.Fatal("gateway wiring incomplete")
	}
	if got := len(gw.registry.List()); got == 0 {
		t.Error("registry has no builtin tools")
	}
}

func TestBuildGateway_StartupBundle(t *testing.T) {
	cfg := testConfig(t)

	bundlePath := filepath.Join(t.TempDir(), "bundle.yaml")
	doc := `version: v1
defaults:
  decision: deny
rules:
  - name: allow-intranet
    match: net.http
    where:
      host_in: [intranet.api]
    action: allow
    reason: internal hosts allowed
`
	if err := os.WriteFile(bundlePath, []byte(doc), 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	cfg.Policy.File = bundlePath

	gw, err := buildGateway(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("buildGateway() error = %v", err)
	}
	defer gw.Close()

	status, err := gw.policies.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Rollout.Active == "" {
		t.Error("startup bundle not active")
	}
	if len(status.Versions) != 1 {
		t.Errorf("versions = %d, want 1", len(status.Versions))
	}
}

func TestBuildGateway_MissingStartupBundle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Policy.File = filepath.Join(t.TempDir(), "nope.yaml")

	if _, err := buildGateway(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("buildGateway() error = nil, want read failure")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
