package rpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/auditchain"
	bundlestore "github.com/toolgate-dev/toolgate/internal/adapter/outbound/bundle"
	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate-dev/toolgate/internal/adapter/outbound/notify"
	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/domain/mcp"
	"github.com/toolgate-dev/toolgate/internal/domain/tool"
	"github.com/toolgate-dev/toolgate/internal/service"
)

const testBundle = `version: v1
defaults:
  decision: deny
rules:
  - name: allow-intranet
    match: net.http
    where:
      host_in: [intranet.api]
    action: allow
    reason: internal hosts allowed
  - name: gate-cloud
    match: cloud.ops
    action: approval
    reason: cloud needs signoff
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPrincipal() identity.Principal {
	return identity.Principal{Tenant: "acme", Subject: "agent-7"}
}

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	logger := testLogger()

	auditor := service.NewAuditRecorder(auditchain.NewMemoryStore(), logger)
	t.Cleanup(auditor.Close)

	bstore, err := bundlestore.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	policies, err := service.NewPolicyManager(bstore, nil, false, auditor, logger)
	if err != nil {
		t.Fatalf("NewPolicyManager() error = %v", err)
	}
	admin := identity.Principal{Tenant: "acme", Subject: "ops", Roles: []identity.Role{identity.RoleAdmin}}
	if _, err := policies.Apply(context.Background(), admin, service.ApplyRequest{Raw: []byte(testBundle)}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	led := memory.NewLedger()
	store := memory.NewApprovalStore()
	t.Cleanup(func() { store.Close() })
	approvals := service.NewApprovalService(store, auditor, nil,
		notify.NewTokenSigner("test-secret"), "http://localhost:8081", 0, logger)

	registry := tool.Builtins()
	pipeline := service.NewPipeline(policies, approvals, led, led, auditor, registry, 0, logger)
	return NewDispatcher(pipeline, registry, nil, logger, "toolgate", "test")
}

func callRequest(t *testing.T, id, name string, args map[string]any) *mcp.Request {
	t.Helper()
	params, err := json.Marshal(mcp.ToolsCallParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return &mcp.Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`"` + id + `"`),
		Method:  "tools/call",
		Params:  params,
	}
}

func TestDispatcher_Initialize(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t)
	resp := d.Handle(context.Background(), testPrincipal(), &mcp.Request{
		JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "initialize",
	})
	if resp.Error != nil {
		t.Fatalf("initialize error = %v", resp.Error)
	}
	result, ok := resp.Result.(*mcp.InitializeResult)
	if !ok {
		t.Fatalf("result type = %T", resp.Result)
	}
	if result.ProtocolVersion != mcp.ProtocolVersion {
		t.Errorf("protocol = %q, want %q", result.ProtocolVersion, mcp.ProtocolVersion)
	}
	if result.ServerInfo.Name != "toolgate" {
		t.Errorf("server name = %q", result.ServerInfo.Name)
	}
}

func TestDispatcher_ToolsList(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t)
	resp := d.Handle(context.Background(), testPrincipal(), &mcp.Request{
		JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "tools/list",
	})
	if resp.Error != nil {
		t.Fatalf("tools/list error = %v", resp.Error)
	}
	result := resp.Result.(*mcp.ToolsListResult)
	if len(result.Tools) != 6 {
		t.Fatalf("tools = %d, want 6", len(result.Tools))
	}
	if result.Tools[0].Name != "net.http" {
		t.Errorf("first tool = %q, want net.http", result.Tools[0].Name)
	}
}

func TestDispatcher_ToolsCallAllow(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t)
	resp := d.Handle(context.Background(), testPrincipal(), callRequest(t, "r1", "net.http", map[string]any{
		"url": "https://intranet.api/status", "method": "GET",
	}))
	if resp.Error != nil {
		t.Fatalf("tools/call error = %v", resp.Error)
	}
	result := resp.Result.(*mcp.CallResult)
	if result.IsError {
		t.Fatalf("allow reply marked isError: %+v", result)
	}
	if result.StructuredContent == nil {
		t.Error("allow reply missing structuredContent")
	}
}

func TestDispatcher_ToolsCallDeny(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t)
	resp := d.Handle(context.Background(), testPrincipal(), callRequest(t, "r2", "net.http", map[string]any{
		"url": "https://evil.example/steal",
	}))
	result := resp.Result.(*mcp.CallResult)
	if !result.IsError {
		t.Fatal("deny reply not marked isError")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "denied: no rule matched" {
		t.Errorf("deny content = %+v", result.Content)
	}
}

func TestDispatcher_ToolsCallApproval(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t)
	resp := d.Handle(context.Background(), testPrincipal(), callRequest(t, "r3", "cloud.ops", map[string]any{
		"provider": "aws", "resource": "instance", "action": "run_instances",
	}))
	result := resp.Result.(*mcp.CallResult)
	if result.Decision != "approval" || result.PendingID == "" || !result.IsError {
		t.Errorf("approval reply = %+v", result)
	}
}

func TestDispatcher_Errors(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t)
	ctx := context.Background()
	p := testPrincipal()

	tests := []struct {
		name string
		req  *mcp.Request
		code int
	}{
		{
			"unknown method",
			&mcp.Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "resources/list"},
			mcp.CodeMethodNotFound,
		},
		{
			"missing jsonrpc version",
			&mcp.Request{ID: json.RawMessage("1"), Method: "initialize"},
			mcp.CodeInvalidRequest,
		},
		{
			"bad call params",
			&mcp.Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "tools/call", Params: json.RawMessage(`{"arguments":{}}`)},
			mcp.CodeInvalidParams,
		},
		{
			"unknown tool",
			callRequest(t, "r4", "shell.exec", nil),
			mcp.CodeInvalidParams,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := d.Handle(ctx, p, tt.req)
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %d", resp.Error, tt.code)
			}
		})
	}
}

func TestDispatcher_NotificationDropped(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t)
	resp := d.Handle(context.Background(), testPrincipal(), &mcp.Request{
		JSONRPC: "2.0", Method: "tools/list",
	})
	if resp != nil {
		t.Fatalf("notification reply = %+v, want nil", resp)
	}
}
