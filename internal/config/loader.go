package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches standard locations for
// toolgate.yaml/.yml. The search requires an explicit YAML extension so
// the binary itself is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file in any standard location. Set name/type without
		// search paths so ReadInConfig returns ConfigFileNotFoundError,
		// which callers handle gracefully.
		viper.SetConfigName("toolgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: TOOLGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("TOOLGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a toolgate config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".toolgate"),
		"/etc/toolgate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "toolgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Operational knobs additionally accept bare aliases so
// container deployments do not need the TOOLGATE_ prefix.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")

	_ = viper.BindEnv("auth.mode")
	_ = viper.BindEnv("auth.dev_jwt_secret", "TOOLGATE_AUTH_DEV_JWT_SECRET", "DEV_JWT_SECRET")
	_ = viper.BindEnv("auth.dev_issuer", "TOOLGATE_AUTH_DEV_ISSUER", "DEV_ISSUER")
	_ = viper.BindEnv("auth.oidc_issuer", "TOOLGATE_AUTH_OIDC_ISSUER", "OIDC_ISSUER")
	_ = viper.BindEnv("auth.oidc_jwks_url", "TOOLGATE_AUTH_OIDC_JWKS_URL", "OIDC_JWKS_URL")
	_ = viper.BindEnv("auth.oidc_audience", "TOOLGATE_AUTH_OIDC_AUDIENCE", "OIDC_AUDIENCE")

	_ = viper.BindEnv("policy.file", "TOOLGATE_POLICY_FILE", "POLICY_FILE")
	_ = viper.BindEnv("policy.sig_path", "TOOLGATE_POLICY_SIG_PATH", "POLICY_SIG_PATH")
	_ = viper.BindEnv("policy.public_key_b64", "TOOLGATE_POLICY_PUBLIC_KEY_B64", "POLICY_PUBLIC_KEY_B64")
	_ = viper.BindEnv("policy.require_signature", "TOOLGATE_POLICY_REQUIRE_SIGNATURE", "POLICY_REQUIRE_SIGNATURE")
	_ = viper.BindEnv("policy.dir")

	_ = viper.BindEnv("approvals.sync_wait_ms", "TOOLGATE_APPROVALS_SYNC_WAIT_MS", "APPROVAL_SYNC_WAIT_MS")
	_ = viper.BindEnv("approvals.ttl_seconds", "TOOLGATE_APPROVALS_TTL_SECONDS", "APPROVAL_TTL_SECONDS")
	_ = viper.BindEnv("approvals.callback_signing_secret", "TOOLGATE_APPROVALS_CALLBACK_SIGNING_SECRET", "CALLBACK_SIGNING_SECRET")
	_ = viper.BindEnv("approvals.callback_base_url")
	_ = viper.BindEnv("approvals.slack_webhook_url", "TOOLGATE_APPROVALS_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL")

	_ = viper.BindEnv("store.backend")
	_ = viper.BindEnv("store.coordinator_url", "TOOLGATE_STORE_COORDINATOR_URL", "COORDINATOR_URL")

	_ = viper.BindEnv("audit.backend")
	_ = viper.BindEnv("audit.path", "TOOLGATE_AUDIT_PATH", "AUDIT_URL")

	_ = viper.BindEnv("stdio.tenant")
	_ = viper.BindEnv("stdio.subject")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates. Caller should apply CLI flag overrides
// (e.g. --dev) via LoadConfigRaw when flags may change DevMode.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does NOT apply dev defaults or validate. Use when CLI flags may
// override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or
// empty when running from environment variables only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
