// Package config provides the gateway's configuration schema and loading.
//
// Configuration comes from a YAML file plus TOOLGATE_-prefixed environment
// variables; a handful of bare aliases (POLICY_FILE, COORDINATOR_URL, ...)
// are also honored for container deployments.
package config

import (
	"os"
	"path/filepath"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Auth selects and configures the bearer-token verifier.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Policy configures bundle loading, signing, and storage.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Approvals configures dual-control behavior and notifications.
	Approvals ApprovalsConfig `yaml:"approvals" mapstructure:"approvals"`

	// Store selects the rate/budget/approval/role coordination backend.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Audit selects where the hash chain is persisted.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Stdio configures the identity assumed on the stdio transport.
	Stdio StdioConfig `yaml:"stdio" mapstructure:"stdio"`

	// DevMode enables permissive development defaults.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on.
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level: debug, info, warn, error.
	// Defaults to "info". DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// AuthConfig selects the token verifier.
// Dev mode verifies HS256 tokens with a shared secret; oidc verifies
// RS256 tokens against the issuer's JWKS.
type AuthConfig struct {
	// Mode is "dev" or "oidc".
	Mode string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=dev oidc"`

	// DevJWTSecret is the HS256 secret for dev mode.
	DevJWTSecret string `yaml:"dev_jwt_secret" mapstructure:"dev_jwt_secret"`

	// DevIssuer is the expected iss claim in dev mode.
	// Defaults to "toolgate-dev".
	DevIssuer string `yaml:"dev_issuer" mapstructure:"dev_issuer"`

	// OIDCIssuer is the expected iss claim in oidc mode.
	OIDCIssuer string `yaml:"oidc_issuer" mapstructure:"oidc_issuer"`

	// OIDCJWKSURL is where verification keys are fetched from.
	OIDCJWKSURL string `yaml:"oidc_jwks_url" mapstructure:"oidc_jwks_url" validate:"omitempty,url"`

	// OIDCAudience is the expected aud claim in oidc mode, when set.
	OIDCAudience string `yaml:"oidc_audience" mapstructure:"oidc_audience"`
}

// PolicyConfig configures the bundle lifecycle.
type PolicyConfig struct {
	// File is a bundle to apply at startup, when set.
	File string `yaml:"file" mapstructure:"file"`

	// SigPath is the detached signature for File.
	SigPath string `yaml:"sig_path" mapstructure:"sig_path"`

	// PublicKeyB64 is the base64 Ed25519 key that bundles must verify
	// against.
	PublicKeyB64 string `yaml:"public_key_b64" mapstructure:"public_key_b64" validate:"omitempty,ed25519_b64"`

	// RequireSignature rejects unsigned bundles when true.
	RequireSignature bool `yaml:"require_signature" mapstructure:"require_signature"`

	// Dir is where bundle versions and the rollout state persist.
	// Defaults to ~/.toolgate/bundles.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ApprovalsConfig configures dual-control behavior.
type ApprovalsConfig struct {
	// SyncWaitMS keeps tools/call open up to this long waiting for a
	// quorum before answering with a pending deferral. 0 answers
	// immediately.
	SyncWaitMS int `yaml:"sync_wait_ms" mapstructure:"sync_wait_ms" validate:"omitempty,min=0"`

	// TTLSeconds bounds how long a pending approval may wait.
	// 0 uses the built-in default.
	TTLSeconds int `yaml:"ttl_seconds" mapstructure:"ttl_seconds" validate:"omitempty,min=0"`

	// CallbackSigningSecret signs the approve/deny chat links.
	CallbackSigningSecret string `yaml:"callback_signing_secret" mapstructure:"callback_signing_secret"`

	// CallbackBaseURL is the externally reachable base for chat links.
	CallbackBaseURL string `yaml:"callback_base_url" mapstructure:"callback_base_url" validate:"omitempty,url"`

	// SlackWebhookURL posts pending approvals to a channel, when set.
	SlackWebhookURL string `yaml:"slack_webhook_url" mapstructure:"slack_webhook_url" validate:"omitempty,url"`
}

// StoreConfig selects the coordination backend for rate limits,
// budgets, approvals, and roles.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory redis"`

	// CoordinatorURL is the redis URL for the redis backend,
	// e.g. "redis://localhost:6379/0".
	CoordinatorURL string `yaml:"coordinator_url" mapstructure:"coordinator_url"`
}

// AuditConfig selects where the hash chain is persisted.
type AuditConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory sqlite"`

	// Path is the sqlite database file for the sqlite backend.
	Path string `yaml:"path" mapstructure:"path"`
}

// StdioConfig is the principal assumed on the stdio transport, which
// carries no bearer token.
type StdioConfig struct {
	Tenant  string `yaml:"tenant" mapstructure:"tenant"`
	Subject string `yaml:"subject" mapstructure:"subject"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only by default; network exposure is explicit.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "dev"
	}
	if c.Auth.DevIssuer == "" {
		c.Auth.DevIssuer = "toolgate-dev"
	}

	if c.Policy.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Policy.Dir = filepath.Join(home, ".toolgate", "bundles")
		} else {
			c.Policy.Dir = "toolgate-bundles"
		}
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = "memory"
	}
	if c.Audit.Backend == "sqlite" && c.Audit.Path == "" {
		c.Audit.Path = "toolgate-audit.db"
	}

	if c.Stdio.Tenant == "" {
		c.Stdio.Tenant = "local"
	}
	if c.Stdio.Subject == "" {
		c.Stdio.Subject = "stdio"
	}
}

// SetDevDefaults applies permissive defaults for development mode.
// Applied before validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	if c.Auth.DevJWTSecret == "" {
		c.Auth.DevJWTSecret = "toolgate-dev-secret"
	}
	if c.Approvals.CallbackSigningSecret == "" {
		c.Approvals.CallbackSigningSecret = "toolgate-dev-callback"
	}
	if c.Approvals.CallbackBaseURL == "" {
		c.Approvals.CallbackBaseURL = "http://" + c.Server.HTTPAddr
	}
}
