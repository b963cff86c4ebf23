package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/auditchain"
	bundlestore "github.com/toolgate-dev/toolgate/internal/adapter/outbound/bundle"
	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/notify"
	"github.com/toolgate-dev/toolgate/internal/domain/audit"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/domain/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testAdmin() identity.Principal {
	return identity.Principal{Tenant: "acme", Subject: "ops@acme.test", Roles: []identity.Role{identity.RoleAdmin}}
}

// testBundle allows net.http to intranet hosts, gates cloud.ops over
// $10 behind dual control, and denies everything else by default.
const testBundle = `version: v1
defaults:
  decision: deny
rules:
  - name: allow-intranet
    match: net.http
    where:
      host_in: [intranet.api]
    action: allow
    reason: internal hosts allowed
  - name: gate-expensive-cloud
    match: cloud.ops
    where:
      estimated_cost_usd_over: 10
    action: approval
    reason: expensive cloud operation
    required_approvals: 1
  - name: allow-cheap-cloud
    match: cloud.ops
    action: allow
    reason: routine cloud operation
  - name: allow-estimates
    match: cloud.estimate
    action: allow
    reason: estimation is read-only
`

// harness assembles the full service stack on in-memory adapters.
type harness struct {
	pipeline  *Pipeline
	policies  *PolicyManager
	approvals *ApprovalService
	admin     *AdminService
	auditor   *AuditRecorder
	ledger    *memory.Ledger
	store     *memory.ApprovalStore
	roles     *memory.RoleStore
}

func newHarness(t *testing.T, bundleYAML string, syncWait time.Duration) *harness {
	t.Helper()
	logger := testLogger()

	auditor := NewAuditRecorder(auditchain.NewMemoryStore(), logger)
	t.Cleanup(auditor.Close)

	bstore, err := bundlestore.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	policies, err := NewPolicyManager(bstore, nil, false, auditor, logger)
	if err != nil {
		t.Fatalf("NewPolicyManager() error = %v", err)
	}
	if bundleYAML != "" {
		if _, err := policies.Apply(context.Background(), testAdmin(), ApplyRequest{Raw: []byte(bundleYAML)}); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}

	led := memory.NewLedger()
	store := memory.NewApprovalStore()
	t.Cleanup(func() { store.Close() })
	roles := memory.NewRoleStore()

	approvals := NewApprovalService(store, auditor, nil,
		notify.NewTokenSigner("test-secret"), "http://localhost:8081", 0, logger)

	return &harness{
		pipeline:  NewPipeline(policies, approvals, led, led, auditor, tool.Builtins(), syncWait, logger),
		policies:  policies,
		approvals: approvals,
		admin:     NewAdminService(led, led, roles, auditor, logger),
		auditor:   auditor,
		ledger:    led,
		store:     store,
		roles:     roles,
	}
}

// auditEvents returns the recorded event names in chain order.
func (h *harness) auditEvents(t *testing.T) []audit.Event {
	t.Helper()
	entries, err := h.auditor.Export(context.Background(), time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	out := make([]audit.Event, len(entries))
	for i, e := range entries {
		out[i] = e.Event
	}
	return out
}

func (h *harness) lastAudit(t *testing.T) audit.Entry {
	t.Helper()
	entries, err := h.auditor.Export(context.Background(), time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no audit entries recorded")
	}
	return entries[len(entries)-1]
}
