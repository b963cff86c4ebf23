package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/toolgate-dev/toolgate/internal/domain/approval"
	"github.com/toolgate-dev/toolgate/internal/port/outbound"
)

// SlackNotifier posts pending approvals to a Slack incoming webhook with
// Approve / Deny link buttons.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

var _ outbound.ApprovalNotifier = (*SlackNotifier)(nil)

// NewSlackNotifier builds a notifier for the given incoming-webhook URL.
func NewSlackNotifier(webhookURL string, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// NotifyPending posts the approval card. The message carries the request
// summary, requester, tool and estimated cost, plus one button per
// decision, each pointing at a pre-signed callback URL.
func (n *SlackNotifier) NotifyPending(ctx context.Context, p *approval.Pending, approveURL, denyURL string) error {
	text := fmt.Sprintf("*Approval Required*\n%s", p.Summary)
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Requester:*\n%s", p.Requester), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Tool:*\n`%s`", p.Tool), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Tenant:*\n%s", p.Tenant), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Quorum:*\n%d approvals", p.RequiredApprovals), false, false),
	}
	if p.EstimatedCostUSD > 0 {
		fields = append(fields, slack.NewTextBlockObject(
			slack.MarkdownType, fmt.Sprintf("*Estimated cost:*\n$%.2f", p.EstimatedCostUSD), false, false))
	}

	approve := slack.NewButtonBlockElement("approve", p.ID,
		slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false))
	approve.URL = approveURL
	approve.Style = slack.StylePrimary
	deny := slack.NewButtonBlockElement("deny", p.ID,
		slack.NewTextBlockObject(slack.PlainTextType, "Deny", false, false))
	deny.URL = denyURL
	deny.Style = slack.StyleDanger

	msg := &slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), fields, nil),
			slack.NewActionBlock("approval_actions", approve, deny),
		}},
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		n.logger.Warn("slack notification failed",
			slog.String("pending_id", p.ID),
			slog.String("error", err.Error()))
		return fmt.Errorf("post slack webhook: %w", err)
	}
	n.logger.Debug("slack notification sent", slog.String("pending_id", p.ID))
	return nil
}
