package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("SENTINEL_DATABASE_PATH", filepath.Join(tempDir, "db", "sentinel.db"))

	cfg, err := LoadFile(filepath.Join(tempDir, "missing.yaml"), false)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 5, cfg.RateLimit.Auth.MaxRequests)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Auth.Window)
	assert.True(t, cfg.RateLimit.Auth.Escalation.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Audit.FlushInterval)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.Equal(t, "admin", cfg.Security.ProtectedRoutes["/api/v1/admin"])
	for _, prefix := range []string{"/api/v1/audit", "/api/v1/alerts", "/api/v1/access-lists", "/api/v1/ratelimit", "/api/v1/security"} {
		assert.Equal(t, "admin", cfg.Security.ProtectedRoutes[prefix], prefix)
		assert.Contains(t, cfg.Security.SensitivePaths, prefix)
		assert.Contains(t, cfg.Security.AdminPrefixes, prefix)
	}
	assert.DirExists(t, filepath.Join(tempDir, "db"))
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "sentinel.yaml")
	yaml := `
http_port: "9090"
database_path: ` + filepath.Join(tempDir, "data", "s.db") + `
rate_limit:
  auth:
    max_requests: 10
    window: 5m
audit:
  overflow_policy: reject_new_low
alerts:
  slack:
    webhook_url: https://hooks.slack.com/services/T000/B000/XXX
  email:
    host: smtp.example.com
    to: [ops@example.com]
security:
  api_keys:
    - name: ci
      hash: "$2a$10$abcdefghijklmnopqrstuv"
      role: admin
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("SENTINEL_CONFIG", path)
	t.Setenv("SENTINEL_RATE_LIMIT__AUTH__BLOCK_DURATION", "30m")
	t.Setenv("SENTINEL_SECURITY__DENY_LIST", "203.0.113.0/24, 198.51.100.7")
	t.Setenv("SENTINEL_DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 10, cfg.RateLimit.Auth.MaxRequests)
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.Auth.Window)
	assert.Equal(t, 30*time.Minute, cfg.RateLimit.Auth.BlockDuration)
	assert.Equal(t, 100, cfg.RateLimit.API.MaxRequests, "untouched presets keep defaults")
	assert.Equal(t, []string{"203.0.113.0/24", "198.51.100.7"}, cfg.Security.DenyList)
	assert.Equal(t, "reject_new_low", cfg.Audit.OverflowPolicy)
	assert.Equal(t, "https://hooks.slack.com/services/T000/B000/XXX", cfg.Alerts.Slack.WebhookURL)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Alerts.Email.To)
	require.Len(t, cfg.Security.APIKeys, 1)
	assert.Equal(t, "ci", cfg.Security.APIKeys[0].Name)
}

func TestLoad_RequiredFileMissing(t *testing.T) {
	t.Setenv("SENTINEL_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	cfg.RateLimit.Backend = "redis"
	assert.Error(t, cfg.Validate())
	cfg.RateLimit.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate())

	cfg.Audit.OverflowPolicy = "drop_everything"
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Security.ProtectedRoutes = map[string]string{"admin": "admin"}
	assert.Error(t, cfg.Validate())
}
