// Package notify implements approval notification: signed callback
// tokens and the Slack webhook channel.
package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/approval"
)

var (
	// ErrTokenInvalid is returned for malformed or mis-signed tokens.
	ErrTokenInvalid = errors.New("callback token invalid")
	// ErrTokenExpired is returned when the token's exp has passed.
	ErrTokenExpired = errors.New("callback token expired")
)

// CallbackClaims binds one approver's decision link to a pending
// approval with an expiry.
type CallbackClaims struct {
	PendingID string                  `json:"pending_id"`
	Approver  string                  `json:"approver_id"`
	Action    approval.DecisionAction `json:"action"`
	Exp       int64                   `json:"exp"`
}

// TokenSigner mints and verifies URL-safe callback tokens:
// base64url(claims JSON) + "." + base64url(HMAC-SHA-256).
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner wraps the server's callback signing secret.
func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret)}
}

func (s *TokenSigner) mac(payload []byte) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write(payload)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Sign mints a token for one approver's decision link.
func (s *TokenSigner) Sign(claims CallbackClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal callback claims: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.mac([]byte(encoded)), nil
}

// Verify checks the token's signature and expiry and returns its claims.
func (s *TokenSigner) Verify(token string, now time.Time) (CallbackClaims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return CallbackClaims{}, fmt.Errorf("%w: missing signature", ErrTokenInvalid)
	}
	if !hmac.Equal([]byte(s.mac([]byte(encoded))), []byte(sig)) {
		return CallbackClaims{}, fmt.Errorf("%w: signature mismatch", ErrTokenInvalid)
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return CallbackClaims{}, fmt.Errorf("%w: bad payload encoding", ErrTokenInvalid)
	}
	var claims CallbackClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return CallbackClaims{}, fmt.Errorf("%w: bad payload", ErrTokenInvalid)
	}
	if claims.Action != approval.Approve && claims.Action != approval.Deny {
		return CallbackClaims{}, fmt.Errorf("%w: action %q", ErrTokenInvalid, claims.Action)
	}
	if now.Unix() > claims.Exp {
		return CallbackClaims{}, ErrTokenExpired
	}
	return claims, nil
}
