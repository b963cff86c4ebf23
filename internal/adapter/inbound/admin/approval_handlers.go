package admin

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/notify"
	"github.com/toolgate-dev/toolgate/internal/domain/approval"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
)

// pendingView is one queue entry. Approvers get links bound to their
// own subject so a click is attributed without a bearer token.
type pendingView struct {
	*approval.Pending
	ApproveURL string `json:"approve_url,omitempty"`
	DenyURL    string `json:"deny_url,omitempty"`
}

func (h *Handler) listApprovals(w http.ResponseWriter, r *http.Request, actor identity.Principal) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		tenant = actor.Tenant
	}
	pending, err := h.approvals.ListPending(r.Context(), tenant)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]pendingView, 0, len(pending))
	for _, p := range pending {
		v := pendingView{Pending: p}
		if actor.HasRole(identity.RoleApprover) && actor.Subject != "" {
			approveURL, denyURL, err := h.approvals.DecisionLinks(p.ID, actor.Subject)
			if err != nil {
				h.logger.Warn("decision link minting failed", "pending_id", p.ID, "error", err)
			} else {
				v.ApproveURL, v.DenyURL = approveURL, denyURL
			}
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": views})
}

func (h *Handler) decideApproval(w http.ResponseWriter, r *http.Request, actor identity.Principal) {
	var body struct {
		Action string `json:"action"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	action := approval.DecisionAction(body.Action)
	if action != approval.Approve && action != approval.Deny {
		http.Error(w, "action must be approve or deny", http.StatusBadRequest)
		return
	}
	h.recordDecision(w, r, actor, r.PathValue("id"), action)
}

// approvalCallback lands the signed chat links. The link token alone is
// the credential; a bearer token, when present, overrides the claims for
// attribution so an approver clicking from an authenticated client is
// named in the audit trail.
func (h *Handler) approvalCallback(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("t")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}
	claims, err := h.signer.Verify(token, time.Now())
	if err != nil {
		if errors.Is(err, notify.ErrTokenExpired) {
			http.Error(w, "callback link expired", http.StatusGone)
			return
		}
		http.Error(w, "callback link invalid", http.StatusBadRequest)
		return
	}

	actor, err := h.callbackActor(r, claims)
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "bearer token invalid", http.StatusUnauthorized)
		return
	}

	h.recordDecision(w, r, actor, claims.PendingID, claims.Action)
}

// callbackActor resolves who the decision is attributed to. Roles for
// token-only callers come from the role store so operators can put a
// chat integration's subject into approver groups.
func (h *Handler) callbackActor(r *http.Request, claims notify.CallbackClaims) (identity.Principal, error) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return h.verifier.Verify(r.Context(), strings.TrimPrefix(auth, "Bearer "))
	}

	p, err := h.approvals.Get(r.Context(), claims.PendingID)
	if err != nil {
		// recordDecision will surface the not-found; attribute minimally.
		return identity.Principal{Subject: claims.Approver}, nil
	}
	subject := claims.Approver
	if subject == "" {
		subject = "chat-link"
	}
	roles, err := h.admin.GetRoles(r.Context(), p.Tenant, subject)
	if err != nil {
		h.logger.Warn("callback role lookup failed", "subject", subject, "error", err)
		roles = nil
	}
	return identity.Principal{Tenant: p.Tenant, Subject: subject, Roles: roles}, nil
}

func (h *Handler) recordDecision(w http.ResponseWriter, r *http.Request, actor identity.Principal, id string, action approval.DecisionAction) {
	before, err := h.approvals.Get(r.Context(), id)
	if err != nil {
		h.writeApprovalError(w, r, err)
		return
	}
	wasPending := before.Status == approval.StatusPending

	updated, err := h.approvals.RecordDecision(r.Context(), actor, id, action)
	if err != nil {
		h.writeApprovalError(w, r, err)
		return
	}
	if wasPending && updated.Status.Terminal() {
		h.observer.PendingResolved()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending_id": updated.ID,
		"status":     updated.Status,
		"decisions":  len(updated.Decisions),
		"required":   updated.RequiredApprovals,
	})
}

func (h *Handler) writeApprovalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		http.Error(w, "approval not found", http.StatusNotFound)
	case errors.Is(err, approval.ErrExpired):
		http.Error(w, "approval expired", http.StatusGone)
	case errors.Is(err, approval.ErrNotGroupMember):
		http.Error(w, "approver not in required group", http.StatusForbidden)
	default:
		h.writeError(w, r, err)
	}
}
