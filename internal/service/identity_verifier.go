package service

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/toolgate-dev/toolgate/internal/domain/identity"
)

// gatewayClaims are the JWT claims the gateway expects: registered claims
// plus the tenant binding and an optional role list.
type gatewayClaims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// TokenVerifier authenticates bearer tokens and merges token roles with
// the RBAC store. Two modes: dev (HS256, shared secret) and OIDC (RS256
// against a cached JWKS).
type TokenVerifier struct {
	keyfunc jwt.Keyfunc
	opts    []jwt.ParserOption
	roles   identity.RoleStore
	logger  *slog.Logger
}

var _ identity.Verifier = (*TokenVerifier)(nil)

// NewDevVerifier builds an HS256 verifier for local development.
func NewDevVerifier(secret, issuer string, roles identity.RoleStore, logger *slog.Logger) *TokenVerifier {
	key := []byte(secret)
	return &TokenVerifier{
		keyfunc: func(*jwt.Token) (any, error) { return key, nil },
		opts: []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		},
		roles:  roles,
		logger: logger,
	}
}

// NewOIDCVerifier builds an RS256 verifier that resolves signing keys
// from the issuer's JWKS endpoint.
func NewOIDCVerifier(issuer, jwksURL, audience string, roles identity.RoleStore, logger *slog.Logger) *TokenVerifier {
	cache := newJWKSCache(jwksURL)
	return &TokenVerifier{
		keyfunc: cache.keyfunc,
		opts: []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
		},
		roles:  roles,
		logger: logger,
	}
}

// Verify validates the token and returns the principal it names, with
// roles merged from the RBAC store.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (identity.Principal, error) {
	claims := &gatewayClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyfunc, v.opts...)
	if err != nil {
		return identity.Principal{}, fmt.Errorf("%w: %v", identity.ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return identity.Principal{}, identity.ErrTokenInvalid
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return identity.Principal{}, fmt.Errorf("%w: missing sub or tenant_id", identity.ErrTokenInvalid)
	}

	p := identity.Principal{
		Tenant:  claims.TenantID,
		Subject: claims.Subject,
		Roles:   identity.ParseRoles(claims.Roles),
	}

	stored, err := v.roles.GetRoles(ctx, p.Tenant, p.Subject)
	if err != nil {
		// The token already authenticates the caller; a role-store outage
		// only narrows what they can do.
		v.logger.Warn("rbac lookup failed",
			slog.String("tenant", p.Tenant),
			slog.String("subject", p.Subject),
			slog.String("error", err.Error()))
	}
	p.Roles = mergeRoles(p.Roles, stored)
	return p, nil
}

func mergeRoles(a, b []identity.Role) []identity.Role {
	seen := make(map[identity.Role]struct{}, len(a)+len(b))
	out := make([]identity.Role, 0, len(a)+len(b))
	for _, r := range append(a, b...) {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// jwksCache fetches and caches the issuer's key set. Keys are refreshed
// when a kid is unknown or the cache is older than the refresh interval.
type jwksCache struct {
	url     string
	client  *http.Client
	refresh time.Duration

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func newJWKSCache(url string) *jwksCache {
	return &jwksCache{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		refresh: 5 * time.Minute,
		keys:    map[string]*rsa.PublicKey{},
	}
}

func (c *jwksCache) keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token header missing kid")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.keys[kid]
	if !ok || time.Since(c.fetched) > c.refresh {
		if err := c.fetchLocked(); err != nil {
			return nil, err
		}
		key, ok = c.keys[kid]
	}
	if !ok {
		return nil, fmt.Errorf("no JWKS key for kid %q", kid)
	}
	return key, nil
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (c *jwksCache) fetchLocked() error {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaKeyFromJWK(k.N, k.E)
		if err != nil {
			return fmt.Errorf("jwks key %q: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	c.keys = keys
	c.fetched = time.Now()
	return nil
}

func rsaKeyFromJWK(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}
