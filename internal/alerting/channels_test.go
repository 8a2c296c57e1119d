package alerting

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

func sampleAlert() *models.SecurityAlert {
	return &models.SecurityAlert{
		ID:        "alert-1",
		RuleID:    "brute_force_login",
		RuleName:  "Brute force login",
		Severity:  models.SeverityHigh,
		Message:   "Brute force login: login_failure from 203.0.113.5",
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSlackPayload(t *testing.T) {
	p := SlackPayload(sampleAlert(), "#security")

	assert.Equal(t, "#security", p["channel"])
	assert.Equal(t, "[HIGH] Brute force login: login_failure from 203.0.113.5", p["text"])

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, `"type":"header"`)
	assert.Contains(t, body, "Brute force login")
	assert.Contains(t, body, `*Severity:*\nhigh`)
	assert.Contains(t, body, "2024-03-01T12:00:00Z")

	_, hasChannel := SlackPayload(sampleAlert(), "")["channel"]
	assert.False(t, hasChannel)
}

func TestSlackChannel_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch, err := NewSlackChannel(srv.URL, "", false)
	require.NoError(t, err)
	require.NoError(t, ch.Send(context.Background(), sampleAlert()))
	assert.Len(t, got["blocks"], 3)
}

func TestWebhookChannel_ReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch, err := NewWebhookChannel(srv.URL, "Bearer token", false)
	require.NoError(t, err)
	err = ch.Send(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestValidateWebhookURL(t *testing.T) {
	_, err := validateWebhookURL("ftp://example.com/hook", false)
	assert.Error(t, err)
	_, err = validateWebhookURL("http:///nohost", false)
	assert.Error(t, err)
	_, err = validateWebhookURL("http://10.1.2.3/hook", false)
	assert.Error(t, err)
	_, err = validateWebhookURL("http://10.1.2.3/hook", true)
	assert.NoError(t, err)
	_, err = validateWebhookURL("http://localhost:9000/hook", false)
	assert.NoError(t, err)

	assert.True(t, isPrivateIP(net.ParseIP("192.168.1.10")))
	assert.True(t, isPrivateIP(net.ParseIP("fd00::1")))
	assert.False(t, isPrivateIP(net.ParseIP("203.0.113.5")))
}

func TestEmailConfig_SMTPURL(t *testing.T) {
	_, err := EmailConfig{From: "a@example.com"}.SMTPURL()
	assert.Error(t, err)

	raw, err := EmailConfig{
		Host:     "smtp.example.com",
		Username: "alerts",
		Password: "p@ss",
		From:     "sentinel@example.com",
		To:       []string{"ops@example.com", "sec@example.com"},
		UseTLS:   true,
	}.SMTPURL()
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "smtp", u.Scheme)
	assert.Equal(t, "smtp.example.com:587", u.Host)
	pass, _ := u.User.Password()
	assert.Equal(t, "p@ss", pass)
	assert.Equal(t, "sentinel@example.com", u.Query().Get("from"))
	assert.Equal(t, "ops@example.com,sec@example.com", u.Query().Get("to"))
	assert.Equal(t, "ExplicitTLS", u.Query().Get("encryption"))
}

func TestEmailChannel_UsesSender(t *testing.T) {
	var gotURL, gotMsg string
	ch, err := NewEmailChannel(EmailConfig{Host: "smtp.example.com", Port: 25, From: "s@example.com", To: []string{"ops@example.com"}},
		func(u, msg string) error {
			gotURL, gotMsg = u, msg
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, ch.Name())

	require.NoError(t, ch.Send(context.Background(), sampleAlert()))
	assert.True(t, strings.HasPrefix(gotURL, "smtp://smtp.example.com:25/"))
	assert.Contains(t, gotMsg, "[HIGH] Brute force login")
	assert.Contains(t, gotMsg, "Alert: alert-1")
}

func TestShoutrrrChannel_HonorsTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	ch, err := NewShoutrrrChannel("discord", "discord://token@channel", func(string, string) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = ch.Send(ctx, sampleAlert())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = NewShoutrrrChannel("discord", "", nil)
	assert.Error(t, err)
}

func TestConsoleChannel_NeverFails(t *testing.T) {
	for _, sev := range []models.Severity{models.SeverityLow, models.SeverityMedium, models.SeverityCritical} {
		a := sampleAlert()
		a.Severity = sev
		assert.NoError(t, ConsoleChannel{}.Send(context.Background(), a))
	}
}

const rulesV1 = `
rules:
  - id: admin_denied
    name: Admin denied
    severity: medium
    cooldown: 2m
    channels: [slack]
    match:
      actions: [unauthorized_access]
`

const rulesV2 = `
rules:
  - id: login_storm
    severity: high
    match:
      actions: [login_failure]
    threshold:
      count: 20
      lookback: 10m
      group_by: source_ip
`

func TestRuleLoader_HotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesV1), 0o600))

	e := NewEngine(setupStore(t), nil, Options{})
	stop, err := WatchRules(e, path)
	require.NoError(t, err)
	defer stop()

	v, err := e.Rule("admin_denied")
	require.NoError(t, err)
	assert.Equal(t, 120, v.CooldownSeconds)
	assert.Equal(t, []string{ChannelSlack}, v.Channels)
	assert.Equal(t, SourceFile, v.Source)

	require.NoError(t, os.WriteFile(path, []byte(rulesV2), 0o600))
	require.Eventually(t, func() bool {
		_, err := e.Rule("login_storm")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
	_, err = e.Rule("admin_denied")
	assert.ErrorIs(t, err, ErrRuleNotFound)

	v, err = e.Rule("login_storm")
	require.NoError(t, err)
	assert.Equal(t, 600, v.LookbackSeconds)
}

func TestRuleLoader_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesV1), 0o600))
	l, err := NewRuleLoader(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: everything\n"), 0o600))
	_, err = l.Reload()
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.Equal(t, "admin_denied", l.Rules().Rules[0].ID)

	_, err = NewRuleLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
