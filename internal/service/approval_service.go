package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/notify"
	"github.com/toolgate-dev/toolgate/internal/domain/approval"
	"github.com/toolgate-dev/toolgate/internal/domain/audit"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/domain/policy"
	"github.com/toolgate-dev/toolgate/internal/port/outbound"
)

// callbackTokenTTL bounds how long a chat-link token stays usable. It is
// deliberately longer than the pending TTL so a link never outlives the
// approval it points at for the wrong reason.
const callbackTokenTTL = time.Hour

// ApprovalService owns the pending-approval lifecycle: creation,
// notification, decision recording with group enforcement, and waiting.
type ApprovalService struct {
	store    approval.Store
	auditor  *AuditRecorder
	notifier outbound.ApprovalNotifier
	signer   *notify.TokenSigner
	baseURL  string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewApprovalService wires the service. notifier may be nil (no chat
// channel configured); baseURL is the externally reachable admin origin
// used to mint callback links.
func NewApprovalService(store approval.Store, auditor *AuditRecorder, notifier outbound.ApprovalNotifier, signer *notify.TokenSigner, baseURL string, ttl time.Duration, logger *slog.Logger) *ApprovalService {
	if ttl <= 0 {
		ttl = approval.DefaultTTL
	}
	return &ApprovalService{
		store:    store,
		auditor:  auditor,
		notifier: notifier,
		signer:   signer,
		baseURL:  baseURL,
		ttl:      ttl,
		logger:   logger,
	}
}

// CreatePending persists a new pending approval for the call, audits it,
// and notifies the configured channel. The notification is best-effort;
// a failed post never fails the request.
func (s *ApprovalService) CreatePending(ctx context.Context, call policy.ToolCall, dec policy.Decision) (*approval.Pending, error) {
	p := approval.NewPending(call.Tenant, call.Subject, call.Tool, call.Arguments, dec.RequiredApprovals, s.ttl, time.Now())
	p.ApproverGroup = dec.ApproverGroup
	p.Summary = fmt.Sprintf("%s requested %s (%s)", call.Subject, call.Tool, dec.Reason)
	p.EstimatedCostUSD = costOf(call.Arguments)

	stored, err := s.store.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create pending approval: %w", err)
	}

	if _, err := s.auditor.Record(ctx, audit.Entry{
		Event:      audit.EventApprovalRequested,
		Tenant:     call.Tenant,
		Subject:    call.Subject,
		Tool:       call.Tool,
		Rule:       dec.RuleName,
		RequestID:  call.RequestID,
		ArgsDigest: audit.DigestArgs(call.Arguments),
		ResultMeta: map[string]string{
			"pending_id":         stored.ID,
			"required_approvals": fmt.Sprintf("%d", stored.RequiredApprovals),
		},
	}); err != nil {
		return nil, err
	}

	s.notify(ctx, stored)
	return stored, nil
}

func (s *ApprovalService) notify(ctx context.Context, p *approval.Pending) {
	if s.notifier == nil {
		return
	}
	// The channel webhook has no per-approver audience, so its links
	// leave the approver unbound.
	approveURL, err := s.callbackURL(p.ID, "", approval.Approve)
	if err != nil {
		s.logger.Warn("callback link failed", slog.String("error", err.Error()))
		return
	}
	denyURL, err := s.callbackURL(p.ID, "", approval.Deny)
	if err != nil {
		s.logger.Warn("callback link failed", slog.String("error", err.Error()))
		return
	}
	if err := s.notifier.NotifyPending(ctx, p, approveURL, denyURL); err != nil {
		s.logger.Warn("approval notification failed",
			slog.String("pending_id", p.ID),
			slog.String("error", err.Error()))
	}
}

// DecisionLinks mints approver-bound approve and deny links for one
// pending approval. Used where the audience is known, such as an
// approver's own queue listing.
func (s *ApprovalService) DecisionLinks(pendingID, approver string) (approveURL, denyURL string, err error) {
	if approveURL, err = s.callbackURL(pendingID, approver, approval.Approve); err != nil {
		return "", "", err
	}
	if denyURL, err = s.callbackURL(pendingID, approver, approval.Deny); err != nil {
		return "", "", err
	}
	return approveURL, denyURL, nil
}

// callbackURL mints a pre-signed decision link binding the pending ID,
// the approver (when the audience is known), the action, and an expiry.
// An unbound token authenticates by itself; the callback endpoint
// attributes the decision to the bearer principal when one is presented.
func (s *ApprovalService) callbackURL(pendingID, approver string, action approval.DecisionAction) (string, error) {
	token, err := s.signer.Sign(notify.CallbackClaims{
		PendingID: pendingID,
		Approver:  approver,
		Action:    action,
		Exp:       time.Now().Add(callbackTokenTTL).Unix(),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/approvals/callback?t=%s", s.baseURL, url.QueryEscape(token)), nil
}

// RecordDecision applies one approver's verdict. When the rule names an
// approver group, every deciding approver must hold that role.
// Terminal transitions are audited as approval_resolved.
func (s *ApprovalService) RecordDecision(ctx context.Context, approver identity.Principal, id string, action approval.DecisionAction) (*approval.Pending, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ApproverGroup != "" && !approver.HasRole(identity.Role(p.ApproverGroup)) {
		return nil, fmt.Errorf("%w: %s requires role %q", approval.ErrNotGroupMember, id, p.ApproverGroup)
	}

	before := p.Status
	updated, err := s.store.RecordDecision(ctx, id, approver.Subject, action)
	if err != nil {
		return nil, err
	}

	if _, aerr := s.auditor.Record(ctx, audit.Entry{
		Event:    audit.EventApprovalDecision,
		Tenant:   updated.Tenant,
		Subject:  updated.Requester,
		Tool:     updated.Tool,
		Approver: approver.Subject,
		ResultMeta: map[string]string{
			"pending_id": id,
			"action":     string(action),
			"status":     string(updated.Status),
		},
	}); aerr != nil {
		return nil, aerr
	}

	if updated.Status.Terminal() && !before.Terminal() {
		if _, aerr := s.auditor.Record(ctx, audit.Entry{
			Event:    audit.EventApprovalResolved,
			Tenant:   updated.Tenant,
			Subject:  updated.Requester,
			Tool:     updated.Tool,
			Decision: string(updated.Status),
			ResultMeta: map[string]string{
				"pending_id": id,
			},
		}); aerr != nil {
			return nil, aerr
		}
	}
	return updated, nil
}

// Get returns a snapshot of one pending approval.
func (s *ApprovalService) Get(ctx context.Context, id string) (*approval.Pending, error) {
	return s.store.Get(ctx, id)
}

// ListPending returns a tenant's open approvals.
func (s *ApprovalService) ListPending(ctx context.Context, tenant string) ([]*approval.Pending, error) {
	return s.store.ListPending(ctx, tenant)
}

// Wait blocks until the approval resolves or the timeout passes.
// A timeout reports the approval as still pending, not as an error.
func (s *ApprovalService) Wait(ctx context.Context, id string, timeout time.Duration) (approval.Status, error) {
	return s.store.WaitForResolution(ctx, id, timeout)
}

// costOf extracts the caller-declared estimated cost from tool
// arguments, zero when absent or malformed.
func costOf(args map[string]any) float64 {
	switch v := args["estimated_cost_usd"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
