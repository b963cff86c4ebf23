package service

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"

	bundlestore "github.com/toolgate-dev/toolgate/internal/adapter/outbound/bundle"
	"github.com/toolgate-dev/toolgate/internal/domain/audit"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/domain/policy"
)

// ApplyStrategy selects how a new bundle version reaches tenants.
type ApplyStrategy string

const (
	// StrategyActive makes the new version active for everyone at once.
	StrategyActive ApplyStrategy = "active"
	// StrategyCanary serves the new version to a tenant percentage.
	StrategyCanary ApplyStrategy = "canary_percent"
	// StrategyExplicit pins named tenants to the new version.
	StrategyExplicit ApplyStrategy = "explicit"
)

// ErrStrategyInvalid rejects apply requests with an unknown strategy or
// out-of-range parameters.
var ErrStrategyInvalid = errors.New("apply strategy invalid")

// ApplyRequest carries one bundle apply.
type ApplyRequest struct {
	Raw      []byte
	Sig      *bundlestore.Signature
	Strategy ApplyStrategy
	// CanaryPercent sizes the cohort for StrategyCanary.
	CanaryPercent int
	// PinTenants names the tenants for StrategyExplicit.
	PinTenants []string
}

// PolicyStatus is the admin view of the rollout.
type PolicyStatus struct {
	Rollout  policy.Rollout `json:"rollout"`
	Versions []string       `json:"versions"`
}

// snapshot is the immutable view served to the hot path: the rollout plus
// every compiled bundle it references. Replaced wholesale on apply.
type snapshot struct {
	rollout policy.Rollout
	bundles map[string]*policy.Bundle
}

// PolicyManager owns bundle lifecycle: verify, register, compile, roll
// out, and serve compiled bundles to the pipeline without locks.
type PolicyManager struct {
	store      *bundlestore.Store
	pubKey     ed25519.PublicKey
	requireSig bool
	auditor    *AuditRecorder
	logger     *slog.Logger
	seed       func() uint64

	snap atomic.Pointer[snapshot]
}

// NewPolicyManager builds the manager and loads the persisted rollout.
// pubKey may be nil only when signatures are not required.
func NewPolicyManager(store *bundlestore.Store, pubKey ed25519.PublicKey, requireSig bool, auditor *AuditRecorder, logger *slog.Logger) (*PolicyManager, error) {
	m := &PolicyManager{
		store:      store,
		pubKey:     pubKey,
		requireSig: requireSig,
		auditor:    auditor,
		logger:     logger,
		seed:       rand.Uint64,
	}
	if err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// reload rebuilds the snapshot from the persisted rollout state.
func (m *PolicyManager) reload() error {
	rollout, err := m.store.Rollout()
	if err != nil {
		return fmt.Errorf("load rollout: %w", err)
	}
	snap, err := m.compileSnapshot(rollout)
	if err != nil {
		return err
	}
	m.snap.Store(snap)
	return nil
}

func (m *PolicyManager) compileSnapshot(rollout policy.Rollout) (*snapshot, error) {
	versions := map[string]struct{}{}
	if rollout.Active != "" {
		versions[rollout.Active] = struct{}{}
	}
	if rollout.Canary != "" {
		versions[rollout.Canary] = struct{}{}
	}
	for _, v := range rollout.Pins {
		if v != "" {
			versions[v] = struct{}{}
		}
	}

	bundles := make(map[string]*policy.Bundle, len(versions))
	for v := range versions {
		raw, err := m.store.Load(v)
		if err != nil {
			return nil, err
		}
		b, err := policy.ParseBundle(raw)
		if err != nil {
			return nil, fmt.Errorf("version %s: %w", v, err)
		}
		b.Version = v
		bundles[v] = b
	}
	return &snapshot{rollout: rollout, bundles: bundles}, nil
}

// BundleFor resolves the compiled bundle a tenant evaluates against, or
// nil when no bundle has been applied yet.
func (m *PolicyManager) BundleFor(tenant string) *policy.Bundle {
	snap := m.snap.Load()
	if snap == nil {
		return nil
	}
	return snap.bundles[snap.rollout.VersionFor(tenant)]
}

// Rollout returns the current rollout state.
func (m *PolicyManager) Rollout() policy.Rollout {
	snap := m.snap.Load()
	if snap == nil {
		return policy.Rollout{}
	}
	return snap.rollout
}

// Status returns the rollout plus all registered versions.
func (m *PolicyManager) Status() (PolicyStatus, error) {
	versions, err := m.store.Versions()
	if err != nil {
		return PolicyStatus{}, err
	}
	return PolicyStatus{Rollout: m.Rollout(), Versions: versions}, nil
}

// Apply validates, verifies, registers, and rolls out a new bundle
// version per the requested strategy. Every outcome is audited.
func (m *PolicyManager) Apply(ctx context.Context, actor identity.Principal, req ApplyRequest) (string, error) {
	version, err := m.apply(req)
	if err != nil {
		m.auditFailed(ctx, actor, audit.EventBundleApplyFailed, applyFailureReason(err))
		return "", err
	}

	if _, aerr := m.auditor.Record(ctx, audit.Entry{
		Event:   audit.EventBundleApplied,
		Tenant:  actor.Tenant,
		Subject: actor.Subject,
		ResultMeta: map[string]string{
			"version":  version,
			"strategy": string(req.Strategy),
		},
	}); aerr != nil {
		return "", aerr
	}
	m.logger.Info("policy bundle applied",
		slog.String("version", version),
		slog.String("strategy", string(req.Strategy)))
	return version, nil
}

func (m *PolicyManager) apply(req ApplyRequest) (string, error) {
	if _, err := policy.ParseBundle(req.Raw); err != nil {
		return "", err
	}
	if err := m.verifySignature(req.Raw, req.Sig); err != nil {
		return "", err
	}

	version, err := m.store.Register(req.Raw)
	if err != nil {
		return "", err
	}

	rollout := m.Rollout()
	switch req.Strategy {
	case StrategyActive, "":
		rollout.Active = version
		rollout.Canary = ""
		rollout.CanaryPercent = 0
	case StrategyCanary:
		if req.CanaryPercent < 1 || req.CanaryPercent > 100 {
			return "", fmt.Errorf("%w: canary_percent %d", ErrStrategyInvalid, req.CanaryPercent)
		}
		rollout.Canary = version
		rollout.CanaryPercent = req.CanaryPercent
		rollout.Seed = m.seed()
	case StrategyExplicit:
		if len(req.PinTenants) == 0 {
			return "", fmt.Errorf("%w: explicit strategy needs tenants", ErrStrategyInvalid)
		}
		if rollout.Pins == nil {
			rollout.Pins = map[string]string{}
		}
		for _, t := range req.PinTenants {
			rollout.Pins[t] = version
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrStrategyInvalid, req.Strategy)
	}

	return version, m.install(rollout)
}

// Rollback restores a registered version as active and clears the
// canary. Pins are left alone: they are explicit operator intent.
func (m *PolicyManager) Rollback(ctx context.Context, actor identity.Principal, version string) error {
	if _, err := m.store.Load(version); err != nil {
		m.auditFailed(ctx, actor, audit.EventBundleApplyFailed, "rollback: "+applyFailureReason(err))
		return err
	}

	rollout := m.Rollout()
	rollout.Active = version
	rollout.Canary = ""
	rollout.CanaryPercent = 0
	if err := m.install(rollout); err != nil {
		return err
	}

	if _, err := m.auditor.Record(ctx, audit.Entry{
		Event:      audit.EventBundleRolledBack,
		Tenant:     actor.Tenant,
		Subject:    actor.Subject,
		ResultMeta: map[string]string{"version": version},
	}); err != nil {
		return err
	}
	m.logger.Info("policy bundle rolled back", slog.String("version", version))
	return nil
}

// install persists the rollout and swaps in the new snapshot.
func (m *PolicyManager) install(rollout policy.Rollout) error {
	snap, err := m.compileSnapshot(rollout)
	if err != nil {
		return err
	}
	if err := m.store.SetRollout(rollout); err != nil {
		return err
	}
	m.snap.Store(snap)
	return nil
}

// Simulate evaluates a call against the supplied bundle bytes, or the
// tenant's current bundle when raw is nil. No side effects, no audit.
func (m *PolicyManager) Simulate(call policy.ToolCall, raw []byte) (policy.Decision, error) {
	var b *policy.Bundle
	if raw != nil {
		parsed, err := policy.ParseBundle(raw)
		if err != nil {
			return policy.Decision{}, err
		}
		b = parsed
	} else if b = m.BundleFor(call.Tenant); b == nil {
		return policy.Decision{}, policy.ErrVersionNotFound
	}
	return b.Evaluate(call), nil
}

// Diff compares proposed bundle bytes against the current active version
// (or the supplied current bytes) and reports rule-level changes.
func (m *PolicyManager) Diff(current, proposed []byte) (*policy.DiffReport, error) {
	if current == nil {
		rollout := m.Rollout()
		if rollout.Active == "" {
			current = []byte{}
		} else {
			raw, err := m.store.Load(rollout.Active)
			if err != nil {
				return nil, err
			}
			current = raw
		}
	}
	return policy.Diff(current, proposed)
}

func (m *PolicyManager) verifySignature(raw []byte, sig *bundlestore.Signature) error {
	if sig == nil {
		if m.requireSig {
			return fmt.Errorf("%w: signature required but missing", policy.ErrSignatureInvalid)
		}
		return nil
	}
	if m.pubKey == nil {
		return fmt.Errorf("%w: no public key configured", policy.ErrSignatureInvalid)
	}
	return bundlestore.Verify(m.pubKey, raw, *sig)
}

func (m *PolicyManager) auditFailed(ctx context.Context, actor identity.Principal, event audit.Event, reason string) {
	if _, err := m.auditor.Record(ctx, audit.Entry{
		Event:      event,
		Tenant:     actor.Tenant,
		Subject:    actor.Subject,
		ResultMeta: map[string]string{"reason": reason},
	}); err != nil {
		m.logger.Error("audit of bundle failure failed", slog.String("error", err.Error()))
	}
}

// applyFailureReason maps apply errors onto the stable reason strings
// recorded in the audit log.
func applyFailureReason(err error) string {
	switch {
	case errors.Is(err, policy.ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, policy.ErrMalformed):
		return "malformed"
	case errors.Is(err, policy.ErrInvalid):
		return "invalid"
	case errors.Is(err, policy.ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, policy.ErrVersionNotFound):
		return "version_not_found"
	default:
		return "internal"
	}
}
