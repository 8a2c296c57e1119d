package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Wikid82/sentinel/backend/internal/logger"
	"github.com/Wikid82/sentinel/backend/internal/models"
)

// Channel names.
const (
	ChannelConsole  = "console"
	ChannelWebhook  = "webhook"
	ChannelSlack    = "slack"
	ChannelEmail    = "email"
	ChannelShoutrrr = "shoutrrr"
)

// Channel delivers alerts to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert *models.SecurityAlert) error
}

// ConsoleChannel writes alerts to the process log. It is always enabled.
type ConsoleChannel struct{}

// Name implements Channel.
func (ConsoleChannel) Name() string { return ChannelConsole }

// Send implements Channel.
func (ConsoleChannel) Send(_ context.Context, a *models.SecurityAlert) error {
	entry := logger.Source("alerting").WithFields(logrus.Fields{
		"alert_id": a.ID,
		"rule":     a.RuleID,
		"severity": a.Severity,
		"event_id": a.EventID,
	})
	switch a.Severity {
	case models.SeverityCritical, models.SeverityHigh:
		entry.Error(a.Message)
	case models.SeverityMedium:
		entry.Warn(a.Message)
	default:
		entry.Info(a.Message)
	}
	return nil
}

func safeHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("destination returned status: %d", resp.StatusCode)
	}
	return nil
}

// WebhookChannel posts the alert as JSON.
type WebhookChannel struct {
	url          string
	headers      map[string]string
	allowPrivate bool
	client       *http.Client
}

// NewWebhookChannel validates url and returns the channel. authHeader, when
// set, is sent as the Authorization header.
func NewWebhookChannel(url, authHeader string, allowPrivate bool) (*WebhookChannel, error) {
	if _, err := validateWebhookURL(url, allowPrivate); err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	headers := map[string]string{"User-Agent": "sentinel-alerts"}
	if authHeader != "" {
		headers["Authorization"] = authHeader
	}
	return &WebhookChannel{url: url, headers: headers, allowPrivate: allowPrivate, client: safeHTTPClient(30 * time.Second)}, nil
}

// Name implements Channel.
func (c *WebhookChannel) Name() string { return ChannelWebhook }

type webhookPayload struct {
	Event string                `json:"event"`
	Alert *models.SecurityAlert `json:"alert"`
	Time  string                `json:"time"`
}

// Send implements Channel.
func (c *WebhookChannel) Send(ctx context.Context, a *models.SecurityAlert) error {
	// the destination is re-validated on every send
	if _, err := validateWebhookURL(c.url, c.allowPrivate); err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	return postJSON(ctx, c.client, c.url, c.headers, webhookPayload{
		Event: "security_alert",
		Alert: a,
		Time:  time.Now().UTC().Format(time.RFC3339),
	})
}

// SlackChannel posts block-formatted messages to an incoming webhook.
type SlackChannel struct {
	url          string
	channel      string
	allowPrivate bool
	client       *http.Client
}

// NewSlackChannel validates url and returns the channel.
func NewSlackChannel(url, channel string, allowPrivate bool) (*SlackChannel, error) {
	if _, err := validateWebhookURL(url, allowPrivate); err != nil {
		return nil, fmt.Errorf("invalid slack url: %w", err)
	}
	return &SlackChannel{url: url, channel: channel, allowPrivate: allowPrivate, client: safeHTTPClient(30 * time.Second)}, nil
}

// Name implements Channel.
func (c *SlackChannel) Name() string { return ChannelSlack }

var severityEmoji = map[models.Severity]string{
	models.SeverityLow:      ":information_source:",
	models.SeverityMedium:   ":warning:",
	models.SeverityHigh:     ":rotating_light:",
	models.SeverityCritical: ":fire:",
}

// SlackPayload builds the incoming-webhook body for a.
func SlackPayload(a *models.SecurityAlert, channel string) map[string]interface{} {
	title := fmt.Sprintf("%s %s", severityEmoji[a.Severity], a.RuleName)
	payload := map[string]interface{}{
		"text": fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), a.Message),
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]interface{}{"type": "plain_text", "text": strings.TrimSpace(title)},
			},
			{
				"type": "section",
				"text": map[string]interface{}{"type": "mrkdwn", "text": a.Message},
			},
			{
				"type": "section",
				"fields": []map[string]interface{}{
					{"type": "mrkdwn", "text": "*Severity:*\n" + string(a.Severity)},
					{"type": "mrkdwn", "text": "*Time:*\n" + a.CreatedAt.UTC().Format(time.RFC3339)},
					{"type": "mrkdwn", "text": "*Rule:*\n" + a.RuleID},
					{"type": "mrkdwn", "text": "*Alert:*\n" + a.ID},
				},
			},
		},
	}
	if channel != "" {
		payload["channel"] = channel
	}
	return payload
}

// Send implements Channel.
func (c *SlackChannel) Send(ctx context.Context, a *models.SecurityAlert) error {
	if _, err := validateWebhookURL(c.url, c.allowPrivate); err != nil {
		return fmt.Errorf("invalid slack url: %w", err)
	}
	return postJSON(ctx, c.client, c.url, nil, SlackPayload(a, c.channel))
}
