package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fakeGateway answers /mcp with canned per-method replies and records
// the bearer tokens it sees.
type fakeGateway struct {
	t       *testing.T
	replies map[string]string
	calls   atomic.Int64
	token   atomic.Value
}

func (g *fakeGateway) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mcp" || r.Method != http.MethodPost {
			g.t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		g.token.Store(r.Header.Get("Authorization"))
		g.calls.Add(1)

		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			g.t.Errorf("decode request: %v", err)
			return
		}
		reply, ok := g.replies[req.Method]
		if !ok {
			reply = `{"error":{"code":-32601,"message":"method not found"}}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,` + reply[1:]))
	})
}

func newTestClient(t *testing.T, replies map[string]string, opts ...Option) (*Client, *fakeGateway) {
	t.Helper()
	gw := &fakeGateway{t: t, replies: replies}
	srv := httptest.NewServer(gw.handler())
	t.Cleanup(srv.Close)
	opts = append([]Option{WithServerAddr(srv.URL), WithToken("agent-token")}, opts...)
	return NewClient(opts...), gw
}

func TestClient_Initialize(t *testing.T) {
	client, gw := newTestClient(t, map[string]string{
		"initialize": `{"result":{"protocolVersion":"2025-06-18","serverInfo":{"name":"toolgate","version":"1.2.3"}}}`,
	})

	info, err := client.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if info.Name != "toolgate" || info.Version != "1.2.3" {
		t.Errorf("serverInfo = %+v", info)
	}
	if info.ProtocolVersion != "2025-06-18" {
		t.Errorf("protocolVersion = %q", info.ProtocolVersion)
	}
	if got := gw.token.Load(); got != "Bearer agent-token" {
		t.Errorf("Authorization = %q, want bearer token", got)
	}
}

func TestClient_CallTool_Allow(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"tools/call": `{"result":{"content":[{"type":"text","text":"GET https://intranet.api/status -> 200"}],"structuredContent":{"status":200},"isError":false}}`,
	})

	result, err := client.CallTool(context.Background(), "net.http", map[string]any{
		"method": "GET", "url": "https://intranet.api/status",
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result.Text != "GET https://intranet.api/status -> 200" {
		t.Errorf("text = %q", result.Text)
	}
	if result.Structured["status"] != float64(200) {
		t.Errorf("structured = %v", result.Structured)
	}
}

func TestClient_CallTool_Denied(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"tools/call": `{"result":{"content":[{"type":"text","text":"denied: no rule matched"}],"isError":true}}`,
	})

	_, err := client.CallTool(context.Background(), "mail.send", nil)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("CallTool() error = %v, want *DeniedError", err)
	}
	if denied.Reason != "no rule matched" {
		t.Errorf("reason = %q", denied.Reason)
	}
}

func TestClient_CallTool_Pending(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"tools/call": `{"result":{"decision":"approval","pendingId":"pa_123","content":[{"type":"text","text":"approval required; pending_id=pa_123"}],"isError":true}}`,
	})

	_, err := client.CallTool(context.Background(), "cloud.ops", map[string]any{"op": "restart"})
	var pending *PendingError
	if !errors.As(err, &pending) {
		t.Fatalf("CallTool() error = %v, want *PendingError", err)
	}
	if pending.ID != "pa_123" {
		t.Errorf("pending id = %q", pending.ID)
	}
}

func TestClient_CallTool_RPCErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  error
	}{
		{"unauthorized", `{"error":{"code":-32000,"message":"unauthorized"}}`, ErrUnauthorized},
		{"rate limited", `{"error":{"code":-32002,"message":"rate limit exceeded"}}`, ErrRateLimited},
		{"budget", `{"error":{"code":-32003,"message":"budget exhausted"}}`, ErrBudgetExceeded},
		{"store down", `{"error":{"code":-32004,"message":"store unavailable"}}`, ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, map[string]string{"tools/call": tt.reply})
			_, err := client.CallTool(context.Background(), "net.http", nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("CallTool() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_CallTool_Forbidden(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"tools/call": `{"error":{"code":-32001,"message":"tool forbidden for tenant"}}`,
	})

	_, err := client.CallTool(context.Background(), "fs.write", nil)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("CallTool() error = %v, want *DeniedError", err)
	}
}

func TestClient_ListTools_Cached(t *testing.T) {
	client, gw := newTestClient(t, map[string]string{
		"tools/list": `{"result":{"tools":[{"name":"net.http","inputSchema":{}},{"name":"fs.read","inputSchema":{}}]}}`,
	}, WithToolsCacheTTL(time.Minute))

	for i := 0; i < 3; i++ {
		tools, err := client.ListTools(context.Background())
		if err != nil {
			t.Fatalf("ListTools() error = %v", err)
		}
		if len(tools) != 2 || tools[0].Name != "net.http" {
			t.Fatalf("tools = %+v", tools)
		}
	}
	if got := gw.calls.Load(); got != 1 {
		t.Errorf("gateway calls = %d, want 1 (cached)", got)
	}
}

func TestClient_ListTools_CacheDisabled(t *testing.T) {
	client, gw := newTestClient(t, map[string]string{
		"tools/list": `{"result":{"tools":[]}}`,
	}, WithToolsCacheTTL(0))

	for i := 0; i < 2; i++ {
		if _, err := client.ListTools(context.Background()); err != nil {
			t.Fatalf("ListTools() error = %v", err)
		}
	}
	if got := gw.calls.Load(); got != 2 {
		t.Errorf("gateway calls = %d, want 2 (uncached)", got)
	}
}

func TestClient_MethodNotFound(t *testing.T) {
	client, _ := newTestClient(t, nil)

	_, err := client.ListTools(context.Background())
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("ListTools() error = %v, want *RPCError", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("code = %d, want -32601", rpcErr.Code)
	}
}
