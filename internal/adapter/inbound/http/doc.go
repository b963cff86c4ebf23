// Package http provides the HTTP transport adapter for the gateway: the
// JSON-RPC endpoint at /mcp, the audit export API, health probes, and the
// Prometheus metrics endpoint.
package http
