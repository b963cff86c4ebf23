package toolgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Client talks MCP JSON-RPC to a Toolgate gateway over HTTP.
// It is safe for concurrent use.
type Client struct {
	serverAddr string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	nextID atomic.Int64

	// tools/list cache.
	toolsCacheTTL time.Duration
	toolsMu       sync.Mutex
	toolsCached   []Tool
	toolsExpiry   time.Time
}

// Tool is one tool exposed by the gateway.
type Tool struct {
	Name         string          `json:"name"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// ServerInfo identifies the gateway, from the initialize handshake.
type ServerInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"-"`
}

// ToolResult is a successful tool call's output.
type ToolResult struct {
	// Text is the human-readable content, blocks joined by newlines.
	Text string
	// Structured is the tool's machine-readable output, if any.
	Structured map[string]any
}

// NewClient creates a gateway client. Configuration defaults come from
// TOOLGATE_* environment variables; options override them.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr:    os.Getenv("TOOLGATE_SERVER_ADDR"),
		token:         os.Getenv("TOOLGATE_TOKEN"),
		timeout:       parseDurationEnv("TOOLGATE_TIMEOUT", 10*time.Second),
		toolsCacheTTL: parseDurationEnv("TOOLGATE_TOOLS_CACHE_TTL", 30*time.Second),
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.serverAddr == "" {
		c.serverAddr = "http://127.0.0.1:8080"
	}
	c.serverAddr = strings.TrimRight(c.serverAddr, "/")
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}

	return c
}

// Initialize performs the MCP handshake and returns the gateway's
// identity. Calling it is optional; tool calls work without it.
func (c *Client) Initialize(ctx context.Context) (*ServerInfo, error) {
	var result struct {
		ProtocolVersion string     `json:"protocolVersion"`
		ServerInfo      ServerInfo `json:"serverInfo"`
	}
	err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": "toolgate-sdk-go", "version": SDKVersion},
	}, &result)
	if err != nil {
		return nil, err
	}
	info := result.ServerInfo
	info.ProtocolVersion = result.ProtocolVersion
	return &info, nil
}

// ListTools returns the gateway's tool catalog. Results are cached for
// the configured TTL since the catalog changes only on redeploy.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	c.toolsMu.Lock()
	if c.toolsCached != nil && time.Now().Before(c.toolsExpiry) {
		cached := c.toolsCached
		c.toolsMu.Unlock()
		return cached, nil
	}
	c.toolsMu.Unlock()

	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := c.call(ctx, "tools/list", struct{}{}, &result); err != nil {
		return nil, err
	}

	if c.toolsCacheTTL > 0 {
		c.toolsMu.Lock()
		c.toolsCached = result.Tools
		c.toolsExpiry = time.Now().Add(c.toolsCacheTTL)
		c.toolsMu.Unlock()
	}
	return result.Tools, nil
}

// CallTool executes one tool call through the gateway. Policy denials
// return *DeniedError, approval deferrals return *PendingError, and
// rate/budget stops return the corresponding sentinel errors.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolResult, error) {
	var result struct {
		Decision          string `json:"decision"`
		PendingID         string `json:"pendingId"`
		Content           []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StructuredContent map[string]any `json:"structuredContent"`
		IsError           bool           `json:"isError"`
	}
	err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	}, &result)
	if err != nil {
		return nil, err
	}

	var texts []string
	for _, item := range result.Content {
		if item.Type == "text" {
			texts = append(texts, item.Text)
		}
	}
	text := strings.Join(texts, "\n")

	if result.IsError {
		if result.Decision == "approval" && result.PendingID != "" {
			return nil, &PendingError{ID: result.PendingID}
		}
		return nil, &DeniedError{Reason: strings.TrimPrefix(text, "denied: ")}
	}

	return &ToolResult{Text: text, Structured: result.StructuredContent}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call sends one JSON-RPC request to /mcp and decodes the result.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("toolgate: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverAddr+"/mcp", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("toolgate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("toolgate: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("toolgate: read response: %w", err)
	}

	var rpc rpcResponse
	if err := json.Unmarshal(raw, &rpc); err != nil {
		return fmt.Errorf("toolgate: decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if rpc.Error != nil {
		c.logger.Debug("toolgate rpc error",
			"method", method, "code", rpc.Error.Code, "message", rpc.Error.Message)
		return mapRPCError(rpc.Error.Code, rpc.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(rpc.Result, result); err != nil {
			return fmt.Errorf("toolgate: decode result: %w", err)
		}
	}
	return nil
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
