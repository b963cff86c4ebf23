// Package admin provides the control-plane HTTP adapter: tenant rate
// limits and budgets, RBAC assignments, policy bundle lifecycle, and the
// approval decision endpoints. It mounts behind the main transport.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/notify"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/domain/ledger"
	"github.com/toolgate-dev/toolgate/internal/service"
)

// PendingObserver is notified when an approval reaches a terminal state
// through this adapter. The metrics gauge implements it.
type PendingObserver interface {
	PendingResolved()
}

type nopObserver struct{}

func (nopObserver) PendingResolved() {}

// Handler routes the control-plane API.
type Handler struct {
	admin     *service.AdminService
	policies  *service.PolicyManager
	approvals *service.ApprovalService
	verifier  identity.Verifier
	signer    *notify.TokenSigner
	observer  PendingObserver
	logger    *slog.Logger
	mux       *http.ServeMux
}

// Option is a functional option for configuring Handler.
type Option func(*Handler)

// WithPendingObserver wires the approvals-pending gauge.
func WithPendingObserver(o PendingObserver) Option {
	return func(h *Handler) {
		if o != nil {
			h.observer = o
		}
	}
}

// WithLogger sets the logger for the admin adapter.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler wires the control-plane routes.
func NewHandler(admin *service.AdminService, policies *service.PolicyManager, approvals *service.ApprovalService, verifier identity.Verifier, signer *notify.TokenSigner, opts ...Option) *Handler {
	h := &Handler{
		admin:     admin,
		policies:  policies,
		approvals: approvals,
		verifier:  verifier,
		signer:    signer,
		observer:  nopObserver{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()

	// Tenant limits and RBAC: mutations need admin, reads need viewer.
	mux.Handle("PUT /admin/tenants/{tenant}/rate-limit",
		h.authorized(identity.RoleAdmin, h.putRateLimit))
	mux.Handle("GET /admin/tenants/{tenant}/rate-limit",
		h.authorized(identity.RoleViewer, h.getRateLimit))
	mux.Handle("PUT /admin/tenants/{tenant}/quota",
		h.authorized(identity.RoleAdmin, h.putQuota))
	mux.Handle("GET /admin/tenants/{tenant}/quota",
		h.authorized(identity.RoleViewer, h.getQuota))
	mux.Handle("PUT /admin/rbac/{tenant}/users/{subject}",
		h.authorized(identity.RoleAdmin, h.putRoles))
	mux.Handle("GET /admin/rbac/{tenant}/users/{subject}",
		h.authorized(identity.RoleViewer, h.getRoles))

	// Policy lifecycle.
	mux.Handle("POST /v1/policy/apply",
		h.authorized(identity.RoleAdmin, h.policyApply))
	mux.Handle("POST /v1/policy/rollback",
		h.authorized(identity.RoleAdmin, h.policyRollback))
	mux.Handle("POST /v1/policy/simulate",
		h.authorized(identity.RoleViewer, h.policySimulate))
	mux.Handle("POST /v1/policy/diff",
		h.authorized(identity.RoleViewer, h.policyDiff))
	mux.Handle("GET /v1/policy/status",
		h.authorized(identity.RoleViewer, h.policyStatus))

	// Approvals.
	mux.Handle("GET /admin/approvals",
		h.authorized(identity.RoleApprover, h.listApprovals))
	mux.Handle("POST /admin/approvals/{id}",
		h.authorized(identity.RoleApprover, h.decideApproval))
	mux.HandleFunc("GET /approvals/callback", h.approvalCallback)

	h.mux = mux
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) putRateLimit(w http.ResponseWriter, r *http.Request, actor identity.Principal) {
	var body struct {
		QPS float64 `json:"qps"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	limit := ledger.RateLimit{Tenant: r.PathValue("tenant"), QPS: body.QPS}
	if err := h.admin.SetRateLimit(r.Context(), actor, limit); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (h *Handler) getRateLimit(w http.ResponseWriter, r *http.Request, _ identity.Principal) {
	limit, ok, err := h.admin.GetRateLimit(r.Context(), r.PathValue("tenant"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "no rate limit configured", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (h *Handler) putQuota(w http.ResponseWriter, r *http.Request, actor identity.Principal) {
	var body struct {
		Name     string  `json:"name"`
		Period   string  `json:"period"`
		LimitUSD float64 `json:"limit_usd"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	b := ledger.Budget{
		Tenant:   r.PathValue("tenant"),
		Name:     body.Name,
		Period:   ledger.Period(body.Period),
		LimitUSD: body.LimitUSD,
	}
	if err := h.admin.SetBudget(r.Context(), actor, b); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) getQuota(w http.ResponseWriter, r *http.Request, _ identity.Principal) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name query parameter required", http.StatusBadRequest)
		return
	}
	usage, ok, err := h.admin.GetBudgetUsage(r.Context(), r.PathValue("tenant"), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, "no such budget", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (h *Handler) putRoles(w http.ResponseWriter, r *http.Request, actor identity.Principal) {
	var body struct {
		Roles []string `json:"roles"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	tenant, subject := r.PathValue("tenant"), r.PathValue("subject")
	roles := identity.ParseRoles(body.Roles)
	if err := h.admin.SetRoles(r.Context(), actor, tenant, subject, roles); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": tenant, "subject": subject, "roles": roles})
}

func (h *Handler) getRoles(w http.ResponseWriter, r *http.Request, _ identity.Principal) {
	tenant, subject := r.PathValue("tenant"), r.PathValue("subject")
	roles, err := h.admin.GetRoles(r.Context(), tenant, subject)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": tenant, "subject": subject, "roles": roles})
}

// writeError maps service errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrStoreUnavailable):
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error("admin request failed",
			"path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
