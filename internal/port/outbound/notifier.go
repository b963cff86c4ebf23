// Package outbound defines the outbound port interfaces implemented by
// adapters: approval notification channels.
package outbound

import (
	"context"

	"github.com/toolgate-dev/toolgate/internal/domain/approval"
)

// ApprovalNotifier pushes a pending approval to a human channel with
// pre-signed approve/deny links. Notification is best-effort: a failure
// is logged, never propagated, because the approval can still be decided
// through the callback endpoint or admin API.
type ApprovalNotifier interface {
	// NotifyPending announces a new pending approval.
	NotifyPending(ctx context.Context, p *approval.Pending, approveURL, denyURL string) error
}
