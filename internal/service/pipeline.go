package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/approval"
	"github.com/toolgate-dev/toolgate/internal/domain/audit"
	"github.com/toolgate-dev/toolgate/internal/domain/ledger"
	"github.com/toolgate-dev/toolgate/internal/domain/policy"
	"github.com/toolgate-dev/toolgate/internal/domain/tool"
)

// Outcome is the pipeline's reply for one tool call.
type Outcome struct {
	// Decision is allow, deny, or approval (still pending).
	Decision policy.Action
	// Reason explains deny outcomes.
	Reason string
	// RuleName is the rule that decided the call.
	RuleName string
	// PendingID is set for approval outcomes.
	PendingID string
	// Result is the executed tool's structured output for allow outcomes.
	Result map[string]any
	// AuditID is the chain ID of the decision's audit entry.
	AuditID int64
}

// Pipeline runs the decide flow for every tool call: rate admission,
// bundle selection, evaluation, and the allow / deny / approval branches.
type Pipeline struct {
	policies  *PolicyManager
	approvals *ApprovalService
	rates     ledger.RateStore
	budgets   ledger.BudgetStore
	auditor   *AuditRecorder
	registry  *tool.Registry
	syncWait  time.Duration
	logger    *slog.Logger
}

// NewPipeline wires the decide flow. syncWait is the window a caller
// blocks on a fresh approval before getting a pending reply; zero
// disables synchronous waiting.
func NewPipeline(policies *PolicyManager, approvals *ApprovalService, rates ledger.RateStore, budgets ledger.BudgetStore, auditor *AuditRecorder, registry *tool.Registry, syncWait time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		policies:  policies,
		approvals: approvals,
		rates:     rates,
		budgets:   budgets,
		auditor:   auditor,
		registry:  registry,
		syncWait:  syncWait,
		logger:    logger,
	}
}

// Decide runs one authenticated tool call through the gateway.
// Rate-limit and store failures surface as typed errors for the
// transport's code mapping; policy denials are ordinary outcomes.
func (p *Pipeline) Decide(ctx context.Context, call policy.ToolCall) (Outcome, error) {
	if _, err := p.registry.Get(call.Tool); err != nil {
		return Outcome{}, err
	}

	if err := p.rates.Admit(ctx, call.Tenant); err != nil {
		if errors.Is(err, ledger.ErrRateLimited) {
			if _, aerr := p.record(ctx, call, audit.EventRateLimited, "deny", "", nil); aerr != nil {
				return Outcome{}, aerr
			}
		}
		return Outcome{}, err
	}

	bundle := p.policies.BundleFor(call.Tenant)
	if bundle == nil {
		// Fail closed when no bundle has ever been applied.
		return p.deny(ctx, call, policy.Decision{
			Decision: policy.ActionDeny,
			RuleName: policy.DefaultRuleName,
			Reason:   "no policy bundle installed",
		})
	}

	dec := bundle.Evaluate(call)
	switch dec.Decision {
	case policy.ActionAllow:
		return p.allow(ctx, call, dec)
	case policy.ActionApproval:
		// Cost estimation is read-only; it never waits on a human.
		if call.Tool == "cloud.estimate" {
			return p.allow(ctx, call, dec)
		}
		return p.approvalFlow(ctx, call, dec)
	default:
		return p.deny(ctx, call, dec)
	}
}

func (p *Pipeline) deny(ctx context.Context, call policy.ToolCall, dec policy.Decision) (Outcome, error) {
	entry, err := p.record(ctx, call, audit.EventDeny, string(policy.ActionDeny), dec.RuleName, nil)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Decision: policy.ActionDeny,
		Reason:   dec.Reason,
		RuleName: dec.RuleName,
		AuditID:  entry.ID,
	}, nil
}

// allow debits the declared cost, executes the tool, and audits. A failed
// execution refunds the debit in the same request.
func (p *Pipeline) allow(ctx context.Context, call policy.ToolCall, dec policy.Decision) (Outcome, error) {
	cost := costOf(call.Arguments)
	budgetName := budgetNameFor(call.Tool)
	now := time.Now()

	if cost > 0 {
		if err := p.budgets.Debit(ctx, call.Tenant, budgetName, cost, now); err != nil {
			if errors.Is(err, ledger.ErrBudgetExceeded) {
				entry, aerr := p.record(ctx, call, audit.EventBudgetExceeded, string(policy.ActionDeny), dec.RuleName, map[string]string{
					"budget":        budgetName,
					"attempted_usd": fmt.Sprintf("%.4f", cost),
				})
				if aerr != nil {
					return Outcome{}, aerr
				}
				return Outcome{
					Decision: policy.ActionDeny,
					Reason:   "budget_exceeded",
					RuleName: dec.RuleName,
					AuditID:  entry.ID,
				}, nil
			}
			return Outcome{}, err
		}
	}

	result, err := p.registry.Execute(ctx, call.Tool, call.Arguments)
	if err != nil {
		p.refund(ctx, call.Tenant, budgetName, cost, now)
		return Outcome{}, err
	}

	entry, err := p.record(ctx, call, audit.EventAllow, string(policy.ActionAllow), dec.RuleName, nil)
	if err != nil {
		p.refund(ctx, call.Tenant, budgetName, cost, now)
		return Outcome{}, err
	}

	return Outcome{
		Decision: policy.ActionAllow,
		RuleName: dec.RuleName,
		Result:   result,
		AuditID:  entry.ID,
	}, nil
}

func (p *Pipeline) refund(ctx context.Context, tenant, budgetName string, cost float64, now time.Time) {
	if cost <= 0 {
		return
	}
	if err := p.budgets.Refund(ctx, tenant, budgetName, cost, now); err != nil {
		p.logger.Error("budget refund failed",
			slog.String("tenant", tenant),
			slog.String("budget", budgetName),
			slog.String("error", err.Error()))
	}
}

// approvalFlow creates the pending record, optionally waits for a
// synchronous resolution, and completes as the resolved decision when
// one arrives inside the window.
func (p *Pipeline) approvalFlow(ctx context.Context, call policy.ToolCall, dec policy.Decision) (Outcome, error) {
	pending, err := p.approvals.CreatePending(ctx, call, dec)
	if err != nil {
		return Outcome{}, err
	}

	if p.syncWait > 0 {
		status, werr := p.approvals.Wait(ctx, pending.ID, p.syncWait)
		if werr != nil {
			return Outcome{}, werr
		}
		switch status {
		case approval.StatusAllow:
			return p.allow(ctx, call, dec)
		case approval.StatusDeny:
			return p.deny(ctx, call, policy.Decision{
				Decision: policy.ActionDeny,
				RuleName: dec.RuleName,
				Reason:   "approval_denied",
			})
		case approval.StatusExpired:
			return p.deny(ctx, call, policy.Decision{
				Decision: policy.ActionDeny,
				RuleName: dec.RuleName,
				Reason:   "approval_expired",
			})
		}
	}

	return Outcome{
		Decision:  policy.ActionApproval,
		RuleName:  dec.RuleName,
		Reason:    dec.Reason,
		PendingID: pending.ID,
	}, nil
}

func (p *Pipeline) record(ctx context.Context, call policy.ToolCall, event audit.Event, decision, rule string, meta map[string]string) (audit.Entry, error) {
	return p.auditor.Record(ctx, audit.Entry{
		Event:      event,
		Tenant:     call.Tenant,
		Subject:    call.Subject,
		Tool:       call.Tool,
		Decision:   decision,
		Rule:       rule,
		RequestID:  call.RequestID,
		ArgsDigest: audit.DigestArgs(call.Arguments),
		ResultMeta: meta,
	})
}

// budgetNameFor maps a tool to the tenant budget it draws from: the tool
// namespace plus "_usd", so "cloud.ops" debits "cloud_usd". Tenants
// without that budget are unlimited.
func budgetNameFor(toolName string) string {
	ns, _, found := strings.Cut(toolName, ".")
	if !found {
		ns = toolName
	}
	return ns + "_usd"
}
