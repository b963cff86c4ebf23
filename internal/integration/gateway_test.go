// Package integration exercises the gateway's full decision path across
// service boundaries: policy rollout, rate and budget admission, the
// dual-control approval lifecycle, and audit chain integrity.
package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/auditchain"
	bundlestore "github.com/toolgate-dev/toolgate/internal/adapter/outbound/bundle"
	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/notify"
	"github.com/toolgate-dev/toolgate/internal/domain/approval"
	"github.com/toolgate-dev/toolgate/internal/domain/audit"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/domain/ledger"
	"github.com/toolgate-dev/toolgate/internal/domain/policy"
	"github.com/toolgate-dev/toolgate/internal/domain/tool"
	"github.com/toolgate-dev/toolgate/internal/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const gateBundle = `version: v1
defaults:
  decision: deny
rules:
  - name: allow-intranet
    match: net.http
    where:
      host_in: [intranet.api]
    action: allow
    reason: internal hosts allowed
  - name: gate-cloud
    match: cloud.*
    action: approval
    reason: cloud needs signoff
    required_approvals: 2
    approver_group: cloud-approvers
`

// stack is one fully wired gateway core on memory backends.
type stack struct {
	pipeline  *service.Pipeline
	approvals *service.ApprovalService
	admin     *service.AdminService
	policies  *service.PolicyManager
	auditor   *service.AuditRecorder
	store     audit.Store
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	auditStore := auditchain.NewMemoryStore()
	auditor := service.NewAuditRecorder(auditStore, logger)
	t.Cleanup(auditor.Close)

	bstore, err := bundlestore.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	policies, err := service.NewPolicyManager(bstore, nil, false, auditor, logger)
	if err != nil {
		t.Fatalf("NewPolicyManager() error = %v", err)
	}

	led := memory.NewLedger()
	roles := memory.NewRoleStore()
	signer := notify.NewTokenSigner("integration-secret")
	approvals := service.NewApprovalService(
		memory.NewApprovalStore(), auditor, nil, signer,
		"http://127.0.0.1:8080", time.Minute, logger)

	pipeline := service.NewPipeline(policies, approvals, led, led, auditor, tool.Builtins(), 0, logger)
	admin := service.NewAdminService(led, led, roles, auditor, logger)

	s := &stack{
		pipeline:  pipeline,
		approvals: approvals,
		admin:     admin,
		policies:  policies,
		auditor:   auditor,
		store:     auditStore,
	}
	s.apply(t, gateBundle)
	return s
}

func (s *stack) apply(t *testing.T, doc string) string {
	t.Helper()
	version, err := s.policies.Apply(context.Background(), operator(), service.ApplyRequest{
		Raw:      []byte(doc),
		Strategy: service.StrategyActive,
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	return version
}

func operator() identity.Principal {
	return identity.Principal{Tenant: "acme", Subject: "root", Roles: []identity.Role{identity.RoleAdmin}}
}

func approver(subject string) identity.Principal {
	return identity.Principal{
		Tenant:  "acme",
		Subject: subject,
		Roles:   []identity.Role{identity.RoleApprover, identity.Role("cloud-approvers")},
	}
}

func call(toolName string, args map[string]any) policy.ToolCall {
	return policy.ToolCall{Tenant: "acme", Subject: "agent-1", Tool: toolName, Arguments: args}
}

func TestApprovalLifecycle_Quorum(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	out, err := s.pipeline.Decide(ctx, call("cloud.ops", map[string]any{"op": "restart", "target": "api-7"}))
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if out.Decision != policy.ActionApproval || out.PendingID == "" {
		t.Fatalf("outcome = %+v, want approval with pending ID", out)
	}

	// One approval out of two keeps the call pending.
	p, err := s.approvals.RecordDecision(ctx, approver("alice"), out.PendingID, approval.Approve)
	if err != nil {
		t.Fatalf("RecordDecision(alice) error = %v", err)
	}
	if p.Status != approval.StatusPending {
		t.Fatalf("status after 1/2 = %q, want pending", p.Status)
	}

	// A duplicate vote from the same approver must not reach quorum.
	p, err = s.approvals.RecordDecision(ctx, approver("alice"), out.PendingID, approval.Approve)
	if err != nil {
		t.Fatalf("RecordDecision(alice again) error = %v", err)
	}
	if p.Status != approval.StatusPending {
		t.Fatalf("status after duplicate vote = %q, want pending", p.Status)
	}

	p, err = s.approvals.RecordDecision(ctx, approver("bob"), out.PendingID, approval.Approve)
	if err != nil {
		t.Fatalf("RecordDecision(bob) error = %v", err)
	}
	if p.Status != approval.StatusAllow {
		t.Fatalf("status after 2/2 = %q, want allow", p.Status)
	}
}

func TestApprovalLifecycle_GroupOutsiderRejected(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	out, err := s.pipeline.Decide(ctx, call("cloud.ops", map[string]any{"op": "delete"}))
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	outsider := identity.Principal{
		Tenant:  "acme",
		Subject: "mallory",
		Roles:   []identity.Role{identity.RoleApprover},
	}
	if _, err := s.approvals.RecordDecision(ctx, outsider, out.PendingID, approval.Approve); err == nil {
		t.Fatal("RecordDecision(outsider) error = nil, want group membership failure")
	}
}

func TestEstimateNeverWaits(t *testing.T) {
	s := newStack(t)

	// cloud.estimate matches the approval rule but is read-only.
	out, err := s.pipeline.Decide(context.Background(), call("cloud.estimate", map[string]any{
		"provider": "aws", "action": "run_instances", "units": 2,
	}))
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if out.Decision != policy.ActionAllow {
		t.Fatalf("decision = %q, want allow", out.Decision)
	}
	if out.PendingID != "" {
		t.Errorf("estimate produced pending approval %q", out.PendingID)
	}
}

func TestRateLimitAdmission(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	if err := s.admin.SetRateLimit(ctx, operator(), ledger.RateLimit{Tenant: "acme", QPS: 2}); err != nil {
		t.Fatalf("SetRateLimit() error = %v", err)
	}

	// A full bucket admits qps calls back to back; the next one trips.
	for i := 0; i < 2; i++ {
		if _, err := s.pipeline.Decide(ctx, call("net.http", map[string]any{"method": "GET", "url": "https://intranet.api/x"})); err != nil {
			t.Fatalf("call %d error = %v", i, err)
		}
	}
	_, err := s.pipeline.Decide(ctx, call("net.http", map[string]any{"method": "GET", "url": "https://intranet.api/x"}))
	if !errors.Is(err, ledger.ErrRateLimited) {
		t.Fatalf("third call error = %v, want rate limited", err)
	}

	// Other tenants are unaffected.
	other := policy.ToolCall{Tenant: "globex", Subject: "agent-9", Tool: "net.http",
		Arguments: map[string]any{"method": "GET", "url": "https://intranet.api/x"}}
	if _, err := s.pipeline.Decide(ctx, other); err != nil {
		t.Fatalf("other tenant error = %v", err)
	}
}

func TestBudgetDebitAndDenial(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	if err := s.admin.SetBudget(ctx, operator(), ledger.Budget{
		Tenant: "acme", Name: "cloud_usd", Period: ledger.PeriodDay, LimitUSD: 10,
	}); err != nil {
		t.Fatalf("SetBudget() error = %v", err)
	}

	// cloud.estimate is allowed outright and debits its declared cost.
	spend := func(cost float64) (service.Outcome, error) {
		return s.pipeline.Decide(ctx, call("cloud.estimate", map[string]any{
			"provider": "aws", "action": "run_instances", "units": 2,
			"estimated_cost_usd": cost,
		}))
	}

	if out, err := spend(6); err != nil || out.Decision != policy.ActionAllow {
		t.Fatalf("first spend = %+v, %v", out, err)
	}
	out, err := spend(6)
	if err != nil {
		t.Fatalf("second spend error = %v", err)
	}
	if out.Decision != policy.ActionDeny || out.Reason != "budget_exceeded" {
		t.Fatalf("second spend outcome = %+v, want budget denial", out)
	}

	usage, ok, err := s.admin.GetBudgetUsage(ctx, "acme", "cloud_usd")
	if err != nil || !ok {
		t.Fatalf("GetBudgetUsage() = %v, %v", ok, err)
	}
	if usage.UsedUSD != 6 {
		t.Errorf("used = %v, want 6 (failed debit not counted)", usage.UsedUSD)
	}
}

func TestRolloutPinAndRollback(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	v1 := s.policies.Rollout().Active

	permissive := `version: v2
defaults:
  decision: allow
rules: []
`
	v2, err := s.policies.Apply(ctx, operator(), service.ApplyRequest{
		Raw:        []byte(permissive),
		Strategy:   service.StrategyExplicit,
		PinTenants: []string{"globex"},
	})
	if err != nil {
		t.Fatalf("Apply(explicit) error = %v", err)
	}

	rollout := s.policies.Rollout()
	if rollout.Active != v1 {
		t.Errorf("active = %q, want %q unchanged", rollout.Active, v1)
	}
	if rollout.VersionFor("globex") != v2 {
		t.Errorf("globex version = %q, want pinned %q", rollout.VersionFor("globex"), v2)
	}
	if rollout.VersionFor("acme") != v1 {
		t.Errorf("acme version = %q, want %q", rollout.VersionFor("acme"), v1)
	}

	// The pinned tenant evaluates the permissive bundle.
	pinned := policy.ToolCall{Tenant: "globex", Subject: "agent-9", Tool: "mail.send",
		Arguments: map[string]any{"to": "x@example.com"}}
	out, err := s.pipeline.Decide(ctx, pinned)
	if err != nil {
		t.Fatalf("Decide(pinned) error = %v", err)
	}
	if out.Decision != policy.ActionAllow {
		t.Errorf("pinned decision = %q, want allow", out.Decision)
	}

	if err := s.policies.Rollback(ctx, operator(), v1); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	rollout = s.policies.Rollout()
	if rollout.Active != v1 {
		t.Errorf("after rollback active = %q, want %q", rollout.Active, v1)
	}
	// Pins are explicit operator intent and survive a rollback.
	if rollout.VersionFor("globex") != v2 {
		t.Errorf("after rollback globex version = %q, want pinned %q", rollout.VersionFor("globex"), v2)
	}
}

func TestAuditChainIntegrity(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	calls := []policy.ToolCall{
		call("net.http", map[string]any{"method": "GET", "url": "https://intranet.api/a"}),
		call("mail.send", map[string]any{"to": "x@example.com"}),
		call("cloud.ops", map[string]any{"op": "restart"}),
	}
	for _, c := range calls {
		if _, err := s.pipeline.Decide(ctx, c); err != nil {
			t.Fatalf("Decide(%s) error = %v", c.Tool, err)
		}
	}

	entries, err := s.store.Export(ctx, time.Time{}, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	// Bundle apply + allow + deny + approval-requested at minimum.
	if len(entries) < 4 {
		t.Fatalf("entries = %d, want at least 4", len(entries))
	}

	if err := audit.Verify(entries, ""); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	head, err := s.store.Head(ctx)
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head != entries[len(entries)-1].Hash {
		t.Errorf("head = %q, want last entry hash %q", head, entries[len(entries)-1].Hash)
	}

	// Tampering with any entry must break verification.
	entries[1].Tool = "shell.exec"
	if err := audit.Verify(entries, ""); err == nil {
		t.Error("Verify() after tamper = nil, want chain mismatch")
	}
}
