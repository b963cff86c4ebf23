package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.Auth.DevJWTSecret = "secret"
	return cfg
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("http_addr = %q, want localhost default", cfg.Server.HTTPAddr)
	}
	if cfg.Auth.Mode != "dev" || cfg.Auth.DevIssuer != "toolgate-dev" {
		t.Errorf("auth defaults = %+v", cfg.Auth)
	}
	if cfg.Store.Backend != "memory" || cfg.Audit.Backend != "memory" {
		t.Errorf("backend defaults = %q/%q, want memory/memory", cfg.Store.Backend, cfg.Audit.Backend)
	}
	if cfg.Policy.Dir == "" {
		t.Error("policy dir default missing")
	}
	if cfg.Stdio.Tenant != "local" || cfg.Stdio.Subject != "stdio" {
		t.Errorf("stdio defaults = %+v", cfg.Stdio)
	}
}

func TestSetDevDefaults(t *testing.T) {
	cfg := &Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Auth.DevJWTSecret == "" || cfg.Approvals.CallbackSigningSecret == "" {
		t.Errorf("dev secrets not filled: %+v", cfg)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want dev defaults to validate", err)
	}
}

func TestValidate(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	pubB64 := base64.StdEncoding.EncodeToString(pub)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{
			"dev mode without secret",
			func(c *Config) { c.Auth.DevJWTSecret = "" },
			"dev_jwt_secret",
		},
		{
			"oidc mode without jwks",
			func(c *Config) { c.Auth.Mode = "oidc"; c.Auth.OIDCIssuer = "https://idp.example" },
			"oidc_jwks_url",
		},
		{
			"oidc mode complete",
			func(c *Config) {
				c.Auth.Mode = "oidc"
				c.Auth.OIDCIssuer = "https://idp.example"
				c.Auth.OIDCJWKSURL = "https://idp.example/jwks.json"
			},
			"",
		},
		{
			"unknown auth mode",
			func(c *Config) { c.Auth.Mode = "ldap" },
			"must be one of",
		},
		{
			"require_signature without key",
			func(c *Config) { c.Policy.RequireSignature = true },
			"public_key_b64",
		},
		{
			"require_signature with key",
			func(c *Config) { c.Policy.RequireSignature = true; c.Policy.PublicKeyB64 = pubB64 },
			"",
		},
		{
			"bad public key",
			func(c *Config) { c.Policy.PublicKeyB64 = "not-a-key" },
			"Ed25519",
		},
		{
			"sig_path without file",
			func(c *Config) { c.Policy.SigPath = "bundle.sig.json" },
			"sig_path",
		},
		{
			"redis without coordinator",
			func(c *Config) { c.Store.Backend = "redis" },
			"coordinator_url",
		},
		{
			"bad listen addr",
			func(c *Config) { c.Server.HTTPAddr = "not an addr" },
			"host:port",
		},
		{
			"negative sync wait",
			func(c *Config) { c.Approvals.SyncWaitMS = -1 },
			"at least",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "toolgate.yaml")
	doc := `
server:
  http_addr: "127.0.0.1:9090"
auth:
  mode: dev
  dev_jwt_secret: file-secret
approvals:
  sync_wait_ms: 1500
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	// The bare alias wins over the file value.
	t.Setenv("POLICY_FILE", "/etc/toolgate/bundle.yaml")
	t.Setenv("COORDINATOR_URL", "redis://localhost:6379/0")
	t.Setenv("TOOLGATE_STORE_BACKEND", "redis")

	InitViper(path)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("http_addr = %q, want file value", cfg.Server.HTTPAddr)
	}
	if cfg.Approvals.SyncWaitMS != 1500 {
		t.Errorf("sync_wait_ms = %d, want 1500", cfg.Approvals.SyncWaitMS)
	}
	if cfg.Policy.File != "/etc/toolgate/bundle.yaml" {
		t.Errorf("policy.file = %q, want env alias value", cfg.Policy.File)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.CoordinatorURL != "redis://localhost:6379/0" {
		t.Errorf("store = %+v, want redis via env", cfg.Store)
	}
	if ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed() = %q, want %q", ConfigFileUsed(), path)
	}
}

func TestLoadConfig_MissingFileUsesEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("DEV_JWT_SECRET", "env-secret")

	InitViper(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	_, err := LoadConfig()
	if err == nil {
		t.Fatal("LoadConfig() error = nil, want read failure for explicit missing file")
	}
}

func TestLoadConfig_EnvOnly(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("DEV_JWT_SECRET", "env-secret")

	// Search from an empty directory so no toolgate.yaml is found.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	InitViper("")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Auth.DevJWTSecret != "env-secret" {
		t.Errorf("dev_jwt_secret = %q, want env value", cfg.Auth.DevJWTSecret)
	}
}
