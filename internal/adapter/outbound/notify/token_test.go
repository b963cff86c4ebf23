package notify

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/approval"
)

func TestToken_RoundTrip(t *testing.T) {
	t.Parallel()

	signer := NewTokenSigner("test-secret")
	now := time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)
	claims := CallbackClaims{
		PendingID: "p-123",
		Approver:  "alice@example.com",
		Action:    approval.Approve,
		Exp:       now.Add(5 * time.Minute).Unix(),
	}

	token, err := signer.Sign(claims)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	got, err := signer.Verify(token, now)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != claims {
		t.Errorf("Verify() = %+v, want %+v", got, claims)
	}
}

func TestToken_Expired(t *testing.T) {
	t.Parallel()

	signer := NewTokenSigner("test-secret")
	now := time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)
	token, err := signer.Sign(CallbackClaims{
		PendingID: "p-123",
		Approver:  "alice@example.com",
		Action:    approval.Deny,
		Exp:       now.Unix(),
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	// At exp the token is still good; one second later it is not.
	if _, err := signer.Verify(token, now); err != nil {
		t.Fatalf("Verify() at exp error = %v", err)
	}
	if _, err := signer.Verify(token, now.Add(time.Second)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Verify() past exp error = %v, want ErrTokenExpired", err)
	}
}

func TestToken_Tampered(t *testing.T) {
	t.Parallel()

	signer := NewTokenSigner("test-secret")
	now := time.Now()
	token, err := signer.Sign(CallbackClaims{
		PendingID: "p-123",
		Approver:  "alice@example.com",
		Action:    approval.Deny,
		Exp:       now.Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	// Swap the payload for one claiming approve: signature no longer matches.
	forged, err := signer.Sign(CallbackClaims{
		PendingID: "p-123",
		Approver:  "alice@example.com",
		Action:    approval.Approve,
		Exp:       now.Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	payload, _, _ := strings.Cut(forged, ".")
	_, sig, _ := strings.Cut(token, ".")
	if _, err := signer.Verify(payload+"."+sig, now); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Verify(spliced) error = %v, want ErrTokenInvalid", err)
	}
}

func TestToken_WrongSecret(t *testing.T) {
	t.Parallel()

	now := time.Now()
	token, err := NewTokenSigner("secret-a").Sign(CallbackClaims{
		PendingID: "p-1",
		Approver:  "bob",
		Action:    approval.Approve,
		Exp:       now.Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := NewTokenSigner("secret-b").Verify(token, now); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Verify(wrong secret) error = %v, want ErrTokenInvalid", err)
	}
}

func TestToken_Malformed(t *testing.T) {
	t.Parallel()

	signer := NewTokenSigner("test-secret")
	for _, token := range []string{"", "nodot", "a.b.c", "!!!.!!!"} {
		if _, err := signer.Verify(token, time.Now()); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Verify(%q) error = %v, want ErrTokenInvalid", token, err)
		}
	}
}

func TestToken_UnknownAction(t *testing.T) {
	t.Parallel()

	signer := NewTokenSigner("test-secret")
	token, err := signer.Sign(CallbackClaims{
		PendingID: "p-1",
		Approver:  "bob",
		Action:    "escalate",
		Exp:       time.Now().Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := signer.Verify(token, time.Now()); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Verify(unknown action) error = %v, want ErrTokenInvalid", err)
	}
}
