// Package bundle loads, signs, and stores policy bundles on disk:
// Ed25519 detached signatures, a content-addressed versions directory,
// and an atomically-replaced rollout file.
package bundle

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/policy"
)

// Signature is the companion .sig file. The signature covers the SHA-256
// digest of the raw bundle bytes, not the bytes themselves.
type Signature struct {
	Alg               string `json:"alg"`
	Created           string `json:"created"`
	SHA256            string `json:"sha256"`
	Sig               string `json:"sig"`
	PubkeyFingerprint string `json:"pubkey_fingerprint"`
}

// Fingerprint renders the short public key identifier embedded in
// signature files, e.g. "toolgate:v1:9f2c11ab".
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "toolgate:v1:" + hex.EncodeToString(sum[:4])
}

// Sign produces the signature metadata for raw bundle bytes.
func Sign(priv ed25519.PrivateKey, raw []byte, now time.Time) Signature {
	digest := sha256.Sum256(raw)
	return Signature{
		Alg:               "Ed25519",
		Created:           now.UTC().Truncate(time.Second).Format(time.RFC3339),
		SHA256:            base64.StdEncoding.EncodeToString(digest[:]),
		Sig:               base64.StdEncoding.EncodeToString(ed25519.Sign(priv, digest[:])),
		PubkeyFingerprint: Fingerprint(priv.Public().(ed25519.PublicKey)),
	}
}

// Verify checks the signature against raw bundle bytes.
// Every failure wraps policy.ErrSignatureInvalid so callers treat the
// bundle as unsigned regardless of which check tripped.
func Verify(pub ed25519.PublicKey, raw []byte, sig Signature) error {
	if sig.Alg != "Ed25519" {
		return fmt.Errorf("%w: unsupported algorithm %q", policy.ErrSignatureInvalid, sig.Alg)
	}
	claimed, err := base64.StdEncoding.DecodeString(sig.SHA256)
	if err != nil {
		return fmt.Errorf("%w: bad sha256 encoding", policy.ErrSignatureInvalid)
	}
	digest := sha256.Sum256(raw)
	if string(claimed) != string(digest[:]) {
		return fmt.Errorf("%w: sha256 mismatch", policy.ErrSignatureInvalid)
	}
	rawSig, err := base64.StdEncoding.DecodeString(sig.Sig)
	if err != nil {
		return fmt.Errorf("%w: bad signature encoding", policy.ErrSignatureInvalid)
	}
	if !ed25519.Verify(pub, digest[:], rawSig) {
		return fmt.Errorf("%w: signature does not verify", policy.ErrSignatureInvalid)
	}
	return nil
}

// ReadSignature loads a .sig file.
func ReadSignature(path string) (Signature, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Signature{}, fmt.Errorf("read signature: %w", err)
	}
	var sig Signature
	if err := json.Unmarshal(raw, &sig); err != nil {
		return Signature{}, fmt.Errorf("%w: malformed signature file: %v", policy.ErrSignatureInvalid, err)
	}
	return sig, nil
}

// WriteSignature writes a .sig file next to a bundle.
func WriteSignature(path string, sig Signature) error {
	raw, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal signature: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// ParsePublicKey decodes a base64 Ed25519 public key.
func ParsePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// GenerateKeyFiles creates a fresh keypair and writes both halves as
// base64 text files, returning the paths.
func GenerateKeyFiles(dir string) (privPath, pubPath string, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", "", fmt.Errorf("generate keypair: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create key dir: %w", err)
	}
	privPath = dir + "/toolgate_policy_private.key"
	pubPath = dir + "/toolgate_policy_public.key"
	if err := os.WriteFile(privPath, []byte(base64.StdEncoding.EncodeToString(priv)), 0o600); err != nil {
		return "", "", fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(base64.StdEncoding.EncodeToString(pub)), 0o644); err != nil {
		return "", "", fmt.Errorf("write public key: %w", err)
	}
	return privPath, pubPath, nil
}

// LoadPrivateKey reads a base64 private key file.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key is %d bytes, want %d", len(decoded), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(decoded), nil
}
