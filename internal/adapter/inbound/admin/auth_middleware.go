package admin

import (
	"net/http"
	"strings"

	"github.com/toolgate-dev/toolgate/internal/domain/identity"
)

// protectedFunc is a handler that runs with an authenticated principal.
type protectedFunc func(w http.ResponseWriter, r *http.Request, actor identity.Principal)

// authorized verifies the bearer token and enforces a minimum role.
// Roles order admin > approver > viewer; admin passes every gate and
// approver passes the viewer gate.
func (h *Handler) authorized(min identity.Role, fn protectedFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		principal, err := h.verifier.Verify(r.Context(), strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			h.logger.Warn("admin token rejected", "path", r.URL.Path, "error", err)
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "bearer token invalid", http.StatusUnauthorized)
			return
		}
		if !hasAtLeast(principal, min) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		fn(w, r, principal)
	})
}

func hasAtLeast(p identity.Principal, min identity.Role) bool {
	switch min {
	case identity.RoleViewer:
		return p.HasRole(identity.RoleViewer) || p.HasRole(identity.RoleApprover)
	default:
		return p.HasRole(min)
	}
}
