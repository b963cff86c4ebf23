// Package inbound defines the driving-side ports of the gateway.
package inbound

import "context"

// Transport serves the gateway to clients.
type Transport interface {
	// Start blocks until the context is cancelled, the peer disconnects,
	// or the transport fails.
	Start(ctx context.Context) error

	// Close gracefully shuts down the transport.
	Close() error
}
