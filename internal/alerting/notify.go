package alerting

import (
	"context"
	"fmt"
	neturl "net/url"
	"strconv"
	"strings"
	"time"

	"github.com/containrrr/shoutrrr"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

// Sender delivers a plain-text message to a shoutrrr service URL.
type Sender func(url, message string) error

// ShoutrrrSender sends through shoutrrr.
func ShoutrrrSender(url, message string) error {
	return shoutrrr.Send(url, message)
}

// ShoutrrrChannel delivers alerts to any shoutrrr service (discord, telegram,
// gotify, smtp, ...).
type ShoutrrrChannel struct {
	name string
	url  string
	send Sender
}

// NewShoutrrrChannel returns a channel named name for the service url.
func NewShoutrrrChannel(name, url string, send Sender) (*ShoutrrrChannel, error) {
	if url == "" {
		return nil, fmt.Errorf("%s: service url is required", name)
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		if _, err := validateWebhookURL(url, false); err != nil {
			return nil, fmt.Errorf("%s: invalid destination: %w", name, err)
		}
	}
	if send == nil {
		send = ShoutrrrSender
	}
	return &ShoutrrrChannel{name: name, url: url, send: send}, nil
}

// Name implements Channel.
func (c *ShoutrrrChannel) Name() string { return c.name }

// Send implements Channel. shoutrrr is not context aware, so the send runs
// in its own goroutine and the context bounds how long we wait for it.
func (c *ShoutrrrChannel) Send(ctx context.Context, a *models.SecurityAlert) error {
	done := make(chan error, 1)
	msg := FormatText(a)
	go func() { done <- c.send(c.url, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", c.name, ctx.Err())
	}
}

// FormatText renders an alert for chat and email services.
func FormatText(a *models.SecurityAlert) string {
	return fmt.Sprintf("[%s] %s\n\n%s\nRule: %s\nTime: %s\nAlert: %s",
		strings.ToUpper(string(a.Severity)), a.RuleName, a.Message, a.RuleID,
		a.CreatedAt.UTC().Format(time.RFC3339), a.ID)
}

// EmailConfig describes the SMTP relay used for email alerts.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	UseTLS   bool
}

// SMTPURL builds the shoutrrr smtp:// service URL.
func (c EmailConfig) SMTPURL() (string, error) {
	if c.Host == "" || c.From == "" || len(c.To) == 0 {
		return "", fmt.Errorf("email: host, from and at least one recipient are required")
	}
	port := c.Port
	if port == 0 {
		port = 587
	}
	u := neturl.URL{
		Scheme: "smtp",
		Host:   c.Host + ":" + strconv.Itoa(port),
		Path:   "/",
	}
	if c.Username != "" {
		u.User = neturl.UserPassword(c.Username, c.Password)
	}
	q := neturl.Values{}
	q.Set("from", c.From)
	q.Set("to", strings.Join(c.To, ","))
	q.Set("subject", "Sentinel security alert")
	if c.UseTLS {
		q.Set("encryption", "ExplicitTLS")
	} else {
		q.Set("encryption", "Auto")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewEmailChannel returns a shoutrrr-backed email channel.
func NewEmailChannel(cfg EmailConfig, send Sender) (*ShoutrrrChannel, error) {
	url, err := cfg.SMTPURL()
	if err != nil {
		return nil, err
	}
	return NewShoutrrrChannel(ChannelEmail, url, send)
}
