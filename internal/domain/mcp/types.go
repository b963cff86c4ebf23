// Package mcp defines the JSON-RPC 2.0 framing and tool-call reply shapes
// shared by the HTTP and stdio transports.
package mcp

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the MCP protocol revision the server speaks.
const ProtocolVersion = "2025-06-18"

// JSON-RPC 2.0 error codes, standard plus the domain range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Domain-specific codes in the reserved server range.
	CodeUnauthorized     = -32000
	CodeForbidden        = -32001
	CodeRateLimited      = -32002
	CodeBudgetExceeded   = -32003
	CodeStoreUnavailable = -32004
)

// Request is an incoming JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification reports whether the request expects no reply.
func (r *Request) Notification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// RequestID renders the ID for correlation in logs and audit records.
func (r *Request) RequestID() string {
	if r.Notification() {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	return string(r.ID)
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Response is an outgoing JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResponse pairs a result with the request it answers.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse pairs an error object with the request it answers.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	if id == nil {
		id = json.RawMessage("null")
	}
	return &Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}
}

// ContentItem is one block of tool-call reply content.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult is the result payload of a tools/call reply.
type CallResult struct {
	// Decision is set on approval deferrals ("approval").
	Decision string `json:"decision,omitempty"`
	// PendingID correlates a deferred call with its pending approval.
	PendingID string `json:"pendingId,omitempty"`
	// Content carries human-readable output blocks.
	Content []ContentItem `json:"content"`
	// StructuredContent carries the tool's machine-readable output.
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	// IsError marks denied, deferred, and failed calls.
	IsError bool `json:"isError"`
}

// AllowResult builds the synchronous success reply.
func AllowResult(text string, structured map[string]any) *CallResult {
	return &CallResult{
		Content:           []ContentItem{{Type: "text", Text: text}},
		StructuredContent: structured,
		IsError:           false,
	}
}

// DenyResult builds the denial reply.
func DenyResult(reason string) *CallResult {
	return &CallResult{
		Content: []ContentItem{{Type: "text", Text: "denied: " + reason}},
		IsError: true,
	}
}

// PendingResult builds the approval-deferral reply.
func PendingResult(pendingID string) *CallResult {
	return &CallResult{
		Decision:  "approval",
		PendingID: pendingID,
		Content:   []ContentItem{{Type: "text", Text: "approval required; pending_id=" + pendingID}},
		IsError:   true,
	}
}

// InitializeResult is the reply to the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// ServerInfo identifies the gateway to clients.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCallParams is the params shape of a tools/call request.
type ToolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolsListResult is the reply to tools/list.
type ToolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ToolDescriptor is one tool as presented to clients.
type ToolDescriptor struct {
	Name         string          `json:"name"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}
