package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/toolgate-dev/toolgate/internal/service"
)

// HealthResponse is the JSON response from the health endpoints.
type HealthResponse struct {
	Status  string            `json:"status"` // "ok" or "unavailable"
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker serves the liveness and readiness probes.
type HealthChecker struct {
	auditor *service.AuditRecorder
	version string
}

// NewHealthChecker wires the probes. auditor may be nil.
func NewHealthChecker(auditor *service.AuditRecorder, version string) *HealthChecker {
	return &HealthChecker{auditor: auditor, version: version}
}

// LivenessHandler answers /healthz: the process is up.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
	})
}

// ReadinessHandler answers /readyz: the audit chain must be reachable,
// since every decision blocks on an audit append.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string)
		status := http.StatusOK
		resp := HealthResponse{Status: "ok", Checks: checks, Version: h.version}

		if h.auditor != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if _, err := h.auditor.Head(ctx); err != nil {
				checks["audit"] = "unavailable: " + err.Error()
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
			} else {
				checks["audit"] = "ok"
			}
		} else {
			checks["audit"] = "not configured"
		}

		writeHealth(w, status, resp)
	})
}

func writeHealth(w http.ResponseWriter, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
