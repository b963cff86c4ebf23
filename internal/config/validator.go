package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers gateway-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("ed25519_b64", validateEd25519B64); err != nil {
		return fmt.Errorf("failed to register ed25519_b64 validator: %w", err)
	}
	return nil
}

// validateEd25519B64 checks that the field is base64 for a 32-byte
// Ed25519 public key. Standard and URL-safe alphabets both pass.
func validateEd25519B64(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if raw, err := enc.DecodeString(s); err == nil {
			return len(raw) == ed25519.PublicKeySize
		}
	}
	return false
}

// Validate validates the Config using struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateSigning(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAuth() error {
	switch c.Auth.Mode {
	case "dev":
		if c.Auth.DevJWTSecret == "" {
			return errors.New("auth: dev mode requires dev_jwt_secret (or run with --dev)")
		}
	case "oidc":
		if c.Auth.OIDCIssuer == "" || c.Auth.OIDCJWKSURL == "" {
			return errors.New("auth: oidc mode requires oidc_issuer and oidc_jwks_url")
		}
	}
	return nil
}

func (c *Config) validateSigning() error {
	if c.Policy.RequireSignature && c.Policy.PublicKeyB64 == "" {
		return errors.New("policy: require_signature needs public_key_b64")
	}
	if c.Policy.SigPath != "" && c.Policy.File == "" {
		return errors.New("policy: sig_path set without file")
	}
	return nil
}

func (c *Config) validateStore() error {
	if c.Store.Backend == "redis" && c.Store.CoordinatorURL == "" {
		return errors.New("store: redis backend requires coordinator_url")
	}
	if c.Audit.Backend == "sqlite" && c.Audit.Path == "" {
		return errors.New("audit: sqlite backend requires path")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "ed25519_b64":
		return fmt.Sprintf("%s must be base64 for a 32-byte Ed25519 key", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
