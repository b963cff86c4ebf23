package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/toolgate-dev/toolgate/internal/adapter/inbound/rpc"
	"github.com/toolgate-dev/toolgate/internal/domain/mcp"
)

// maxBodyBytes bounds request bodies; tool arguments are small.
const maxBodyBytes = 1 << 20

// mcpHandler answers JSON-RPC 2.0 requests on /mcp. The principal must
// already be in context (BearerAuthMiddleware runs in front of it).
func mcpHandler(d *rpc.Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeAuthError(w, "missing bearer token")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeResponse(w, http.StatusOK, mcp.NewErrorResponse(nil, mcp.CodeParseError, "unreadable request body"))
			return
		}

		var req mcp.Request
		if err := json.Unmarshal(body, &req); err != nil {
			writeResponse(w, http.StatusOK, mcp.NewErrorResponse(nil, mcp.CodeParseError, "parse error"))
			return
		}

		resp := d.Handle(r.Context(), principal, &req)
		if resp == nil {
			// Notification: acknowledge without a body.
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeResponse(w, http.StatusOK, resp)
	})
}

func writeResponse(w http.ResponseWriter, status int, resp *mcp.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
