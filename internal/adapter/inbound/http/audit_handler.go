package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/audit"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/service"
)

// auditExportResponse is the body of GET /v1/audit.
type auditExportResponse struct {
	Entries []audit.Entry `json:"entries"`
	Head    string        `json:"head"`
}

// auditExportHandler serves GET /v1/audit?frm=&to= for verifiers.
// Bounds are epoch seconds, with RFC 3339 accepted as an extension;
// a missing frm means the chain genesis and a missing to means now.
// `from` is honored as an alias for frm. Requires at least the
// viewer role.
func auditExportHandler(auditor *service.AuditRecorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeAuthError(w, "missing bearer token")
			return
		}
		if !principal.HasRole(identity.RoleViewer) && !principal.HasRole(identity.RoleApprover) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		var from, to time.Time
		q := r.URL.Query()
		fromParam := q.Get("frm")
		if fromParam == "" {
			fromParam = q.Get("from")
		}
		if fromParam != "" {
			t, err := parseTimeBound(fromParam)
			if err != nil {
				http.Error(w, "frm must be epoch seconds or RFC 3339", http.StatusBadRequest)
				return
			}
			from = t
		}
		to = time.Now().UTC()
		if s := q.Get("to"); s != "" {
			t, err := parseTimeBound(s)
			if err != nil {
				http.Error(w, "to must be epoch seconds or RFC 3339", http.StatusBadRequest)
				return
			}
			to = t
		}

		entries, err := auditor.Export(r.Context(), from, to)
		if err != nil {
			LoggerFromContext(r.Context()).Error("audit export failed", "error", err)
			http.Error(w, "audit store unavailable", http.StatusServiceUnavailable)
			return
		}
		head, err := auditor.Head(r.Context())
		if err != nil {
			http.Error(w, "audit store unavailable", http.StatusServiceUnavailable)
			return
		}
		if entries == nil {
			entries = []audit.Entry{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(auditExportResponse{Entries: entries, Head: head})
	})
}

// parseTimeBound reads an export range bound: epoch seconds, or an
// RFC 3339 timestamp as an extension.
func parseTimeBound(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
