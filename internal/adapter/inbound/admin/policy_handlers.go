package admin

import (
	"errors"
	"net/http"

	bundlestore "github.com/toolgate-dev/toolgate/internal/adapter/outbound/bundle"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/domain/policy"
	"github.com/toolgate-dev/toolgate/internal/service"
)

// applyRequest is the body of POST /v1/policy/apply. The bundle travels
// as the raw YAML document; the signature is the sidecar JSON.
type applyRequest struct {
	Bundle        string                 `json:"bundle"`
	Signature     *bundlestore.Signature `json:"signature,omitempty"`
	Strategy      string                 `json:"strategy,omitempty"`
	CanaryPercent int                    `json:"canary_percent,omitempty"`
	PinTenants    []string               `json:"pin_tenants,omitempty"`
}

func (h *Handler) policyApply(w http.ResponseWriter, r *http.Request, actor identity.Principal) {
	var body applyRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Bundle == "" {
		http.Error(w, "bundle required", http.StatusBadRequest)
		return
	}
	version, err := h.policies.Apply(r.Context(), actor, service.ApplyRequest{
		Raw:           []byte(body.Bundle),
		Sig:           body.Signature,
		Strategy:      service.ApplyStrategy(body.Strategy),
		CanaryPercent: body.CanaryPercent,
		PinTenants:    body.PinTenants,
	})
	if err != nil {
		h.writePolicyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

func (h *Handler) policyRollback(w http.ResponseWriter, r *http.Request, actor identity.Principal) {
	var body struct {
		Version string `json:"version"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Version == "" {
		http.Error(w, "version required", http.StatusBadRequest)
		return
	}
	if err := h.policies.Rollback(r.Context(), actor, body.Version); err != nil {
		h.writePolicyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": body.Version})
}

// simulateRequest evaluates a hypothetical call, against the caller's
// supplied bundle when present or the active bundle otherwise. Nothing
// executes and nothing is audited.
type simulateRequest struct {
	Call struct {
		Tenant    string         `json:"tenant"`
		Subject   string         `json:"subject"`
		Tool      string         `json:"tool"`
		Arguments map[string]any `json:"arguments"`
	} `json:"call"`
	Bundle string `json:"bundle,omitempty"`
}

func (h *Handler) policySimulate(w http.ResponseWriter, r *http.Request, _ identity.Principal) {
	var body simulateRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Call.Tool == "" {
		http.Error(w, "call.tool required", http.StatusBadRequest)
		return
	}
	call := policy.ToolCall{
		Tenant:    body.Call.Tenant,
		Subject:   body.Call.Subject,
		Tool:      body.Call.Tool,
		Arguments: body.Call.Arguments,
	}
	var raw []byte
	if body.Bundle != "" {
		raw = []byte(body.Bundle)
	}
	dec, err := h.policies.Simulate(call, raw)
	if err != nil {
		h.writePolicyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

func (h *Handler) policyDiff(w http.ResponseWriter, r *http.Request, _ identity.Principal) {
	var body struct {
		Current  string `json:"current,omitempty"`
		Proposed string `json:"proposed"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Proposed == "" {
		http.Error(w, "proposed required", http.StatusBadRequest)
		return
	}
	var current []byte
	if body.Current != "" {
		current = []byte(body.Current)
	}
	report, err := h.policies.Diff(current, []byte(body.Proposed))
	if err != nil {
		h.writePolicyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) policyStatus(w http.ResponseWriter, r *http.Request, _ identity.Principal) {
	status, err := h.policies.Status()
	if err != nil {
		h.writePolicyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// writePolicyError maps policy lifecycle errors onto HTTP statuses.
func (h *Handler) writePolicyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, policy.ErrSignatureInvalid):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, policy.ErrMalformed), errors.Is(err, policy.ErrInvalid),
		errors.Is(err, service.ErrStrategyInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, policy.ErrVersionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, policy.ErrVersionConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("policy request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
