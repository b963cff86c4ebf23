// Package toolgate is the Go client SDK for the Toolgate gateway.
//
// The client speaks MCP (Model Context Protocol) JSON-RPC 2.0 over HTTP
// to a running gateway, authenticating with a bearer token. Every tool
// call is evaluated against the gateway's policy before it executes;
// denials, rate limits, budget stops, and approval deferrals surface as
// typed errors.
//
// Basic usage:
//
//	client := toolgate.NewClient(
//	    toolgate.WithServerAddr("http://127.0.0.1:8080"),
//	    toolgate.WithToken(os.Getenv("TOOLGATE_TOKEN")),
//	)
//	result, err := client.CallTool(ctx, "net.http", map[string]any{
//	    "method": "GET",
//	    "url":    "https://intranet.api/status",
//	})
//	var pending *toolgate.PendingError
//	if errors.As(err, &pending) {
//	    // the call needs a human approval; poll or wait for pending.ID
//	}
package toolgate

// SDKVersion identifies this SDK release.
const SDKVersion = "0.1.0"

// protocolVersion is the MCP revision the SDK requests during initialize.
const protocolVersion = "2025-06-18"
