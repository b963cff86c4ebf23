// Package rpc implements the transport-agnostic JSON-RPC 2.0 method
// dispatch shared by the HTTP and stdio adapters.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/identity"
	"github.com/toolgate-dev/toolgate/internal/domain/ledger"
	"github.com/toolgate-dev/toolgate/internal/domain/mcp"
	"github.com/toolgate-dev/toolgate/internal/domain/policy"
	"github.com/toolgate-dev/toolgate/internal/domain/tool"
	"github.com/toolgate-dev/toolgate/internal/service"
)

// Observer receives decision outcomes for metrics. All methods must be
// cheap and non-blocking.
type Observer interface {
	Decision(outcome string)
	PendingCreated()
}

// nopObserver keeps the dispatcher free of nil checks.
type nopObserver struct{}

func (nopObserver) Decision(string) {}
func (nopObserver) PendingCreated() {}

// Dispatcher answers initialize, tools/list, and tools/call for an
// already-authenticated principal.
type Dispatcher struct {
	pipeline *service.Pipeline
	registry *tool.Registry
	observer Observer
	logger   *slog.Logger
	name     string
	version  string
}

// NewDispatcher wires the method table. observer may be nil.
func NewDispatcher(pipeline *service.Pipeline, registry *tool.Registry, observer Observer, logger *slog.Logger, name, version string) *Dispatcher {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{
		pipeline: pipeline,
		registry: registry,
		observer: observer,
		logger:   logger,
		name:     name,
		version:  version,
	}
}

// Handle answers one request. Notifications return nil.
func (d *Dispatcher) Handle(ctx context.Context, principal identity.Principal, req *mcp.Request) *mcp.Response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return mcp.NewErrorResponse(req.ID, mcp.CodeInvalidRequest, "invalid request")
	}
	if req.Notification() {
		// Nothing in the method table is a notification; drop silently.
		return nil
	}

	switch req.Method {
	case "initialize":
		return mcp.NewResponse(req.ID, &mcp.InitializeResult{
			ProtocolVersion: mcp.ProtocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      mcp.ServerInfo{Name: d.name, Version: d.version},
		})
	case "tools/list":
		return mcp.NewResponse(req.ID, d.toolsList())
	case "tools/call":
		return d.toolsCall(ctx, principal, req)
	default:
		return mcp.NewErrorResponse(req.ID, mcp.CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (d *Dispatcher) toolsList() *mcp.ToolsListResult {
	tools := d.registry.List()
	out := &mcp.ToolsListResult{Tools: make([]mcp.ToolDescriptor, 0, len(tools))}
	for _, t := range tools {
		out.Tools = append(out.Tools, mcp.ToolDescriptor{
			Name:         t.Name,
			Title:        t.Title,
			Description:  t.Description,
			InputSchema:  t.InputSchema,
			OutputSchema: t.OutputSchema,
		})
	}
	return out
}

func (d *Dispatcher) toolsCall(ctx context.Context, principal identity.Principal, req *mcp.Request) *mcp.Response {
	var params mcp.ToolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return mcp.NewErrorResponse(req.ID, mcp.CodeInvalidParams, "tools/call params require a tool name")
	}

	call := policy.ToolCall{
		Tenant:     principal.Tenant,
		Subject:    principal.Subject,
		Tool:       params.Name,
		Arguments:  params.Arguments,
		RequestID:  req.RequestID(),
		ReceivedAt: time.Now(),
	}

	out, err := d.pipeline.Decide(ctx, call)
	if err != nil {
		return mcp.NewErrorResponse(req.ID, codeFor(err), err.Error())
	}

	switch out.Decision {
	case policy.ActionAllow:
		d.observer.Decision("allow")
		return mcp.NewResponse(req.ID, mcp.AllowResult(params.Name+" completed", out.Result))
	case policy.ActionApproval:
		d.observer.Decision("approval")
		d.observer.PendingCreated()
		return mcp.NewResponse(req.ID, mcp.PendingResult(out.PendingID))
	default:
		d.observer.Decision("deny")
		return mcp.NewResponse(req.ID, mcp.DenyResult(out.Reason))
	}
}

// codeFor maps pipeline errors onto JSON-RPC codes.
func codeFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrRateLimited):
		return mcp.CodeRateLimited
	case errors.Is(err, ledger.ErrBudgetExceeded):
		return mcp.CodeBudgetExceeded
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return mcp.CodeStoreUnavailable
	case errors.Is(err, tool.ErrUnknownTool), errors.Is(err, tool.ErrBadArguments):
		return mcp.CodeInvalidParams
	case errors.Is(err, identity.ErrTokenInvalid):
		return mcp.CodeUnauthorized
	case errors.Is(err, identity.ErrForbidden):
		return mcp.CodeForbidden
	default:
		return mcp.CodeInternalError
	}
}
