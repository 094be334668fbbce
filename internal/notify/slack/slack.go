// Package slack delivers ticket notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/ticketwatch/internal/notify"
)

const (
	maxBodyLen  = 3000
	httpTimeout = 10 * time.Second
)

// Channel posts notifications to a Slack webhook.
type Channel struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
	now        func() time.Time
}

// New creates a Slack channel. If webhookURL is empty, Deliver only reports
// a simulated delivery.
func New(webhookURL string, logger log.Logger) *Channel {
	if logger == nil {
		logger = log.Nop()
	}
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "slack " + r.Method
		}),
	)
	return &Channel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout, Transport: transport},
		logger:     logger,
		now:        time.Now,
	}
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return "slack" }

// Deliver posts the message to the configured webhook.
func (c *Channel) Deliver(ctx context.Context, m *notify.Message) (*notify.Delivery, error) {
	if c.webhookURL == "" {
		return &notify.Delivery{Channel: c.Name(), Status: notify.StatusSimulated, Detail: "no webhook configured"}, nil
	}

	body, err := json.Marshal(buildMessage(m, c.now()))
	if err != nil {
		return nil, fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	c.logger.Info(ctx, "slack notification posted", "ticket_id", m.TicketID, "kind", string(m.Kind))
	return &notify.Delivery{Channel: c.Name(), Status: notify.StatusSent, Detail: fmt.Sprintf("webhook %d", resp.StatusCode)}, nil
}

func buildMessage(m *notify.Message, now time.Time) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(m),
			{"type": "divider"},
			fieldsBlock(m),
			{"type": "divider"},
			bodyBlock(m),
			{"type": "divider"},
			contextBlock(m, now),
		},
	}
}

func headerBlock(m *notify.Message) map[string]any {
	text := fmt.Sprintf("%s %s", priorityEmoji(m.Kind, m.Priority), m.Subject)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(text, 150),
		},
	}
}

func fieldsBlock(m *notify.Message) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Ticket:* %s", m.TicketID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Priority:* %s", strings.ToUpper(m.Priority)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Team:* %s", m.Team),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Notification:* %s", m.Kind),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Recipients:* %d", len(m.To)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func bodyBlock(m *notify.Message) map[string]any {
	text := truncate(m.Body, maxBodyLen)
	if text == "" {
		text = "_No details available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Details*\n\n```%s```", text),
		},
	}
}

func contextBlock(m *notify.Message, now time.Time) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("ticketwatch • %s • %s", m.TicketID, now.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func priorityEmoji(kind notify.Kind, priority string) string {
	if kind == notify.KindManagerEscalation {
		return "\U0001f6a8" // rotating light
	}
	switch strings.ToLower(priority) {
	case "high":
		return "\U0001f534" // red circle
	case "medium":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
