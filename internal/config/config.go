package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: SENTINEL_RATE_LIMIT__AUTH__MAX_REQUESTS.
const EnvPrefix = "SENTINEL_"

// DefaultConfigFile is read when SENTINEL_CONFIG is not set. It is optional.
const DefaultConfigFile = "config/sentinel.yaml"

// Config captures runtime configuration. Defaults let the server boot with
// zero configuration.
type Config struct {
	Environment    string   `koanf:"environment"`
	HTTPPort       string   `koanf:"http_port"`
	DatabasePath   string   `koanf:"database_path"`
	LogDir         string   `koanf:"log_dir"`
	Debug          bool     `koanf:"debug"`
	TrustedProxies []string `koanf:"trusted_proxies"`

	Security  SecurityConfig  `koanf:"security"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Audit     AuditConfig     `koanf:"audit"`
	Alerts    AlertsConfig    `koanf:"alerts"`
}

// SecurityConfig configures the request gate and identity adapters.
type SecurityConfig struct {
	Enabled   bool     `koanf:"enabled"`
	AllowList []string `koanf:"allow_list"`
	DenyList  []string `koanf:"deny_list"`
	// SensitivePaths are path prefixes whose access is always audited.
	SensitivePaths []string `koanf:"sensitive_paths"`
	// ProtectedRoutes maps a path prefix to the minimum role it requires.
	ProtectedRoutes map[string]string `koanf:"protected_routes"`
	// AdminPrefixes are path prefixes counted against the admin rate limit store.
	AdminPrefixes     []string       `koanf:"admin_prefixes"`
	LoginPath         string         `koanf:"login_path"`
	JWTSecret         string         `koanf:"jwt_secret"`
	JWTIssuer         string         `koanf:"jwt_issuer"`
	SessionCookie     string         `koanf:"session_cookie"`
	APIKeys           []APIKeyConfig `koanf:"api_keys"`
	HSTS              bool           `koanf:"hsts"`
	ContentSecurity   string         `koanf:"content_security_policy"`
	AccessListRefresh time.Duration  `koanf:"access_list_refresh"`
}

// APIKeyConfig binds a bcrypt hashed key to an identity.
type APIKeyConfig struct {
	Name           string `koanf:"name"`
	Hash           string `koanf:"hash"`
	UserID         string `koanf:"user_id"`
	Role           string `koanf:"role"`
	OrganizationID string `koanf:"organization_id"`
}

// StoreConfig is one named rate limit preset.
type StoreConfig struct {
	MaxRequests   int              `koanf:"max_requests"`
	Window        time.Duration    `koanf:"window"`
	BlockDuration time.Duration    `koanf:"block_duration"`
	Escalation    EscalationConfig `koanf:"escalation"`
}

// EscalationConfig enables progressive backoff for repeat offenders.
type EscalationConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Multiplier float64       `koanf:"multiplier"`
	MaxBlock   time.Duration `koanf:"max_block"`
	ResetAfter time.Duration `koanf:"reset_after"`
}

// RateLimitConfig selects the entry store and the named presets.
type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend            string        `koanf:"backend"`
	RedisURL           string        `koanf:"redis_url"`
	SweepInterval      time.Duration `koanf:"sweep_interval"`
	AuthPaths          []string      `koanf:"auth_paths"`
	HealthPaths        []string      `koanf:"health_paths"`
	SuspiciousPatterns []string      `koanf:"suspicious_patterns"`

	Global StoreConfig `koanf:"global"`
	API    StoreConfig `koanf:"api"`
	Auth   StoreConfig `koanf:"auth"`
	Admin  StoreConfig `koanf:"admin"`
}

// AuditConfig tunes the audit queue and retention.
type AuditConfig struct {
	FlushInterval   time.Duration `koanf:"flush_interval"`
	BatchSize       int           `koanf:"batch_size"`
	MaxQueue        int           `koanf:"max_queue"`
	OverflowPolicy  string        `koanf:"overflow_policy"`
	RetentionDays   int           `koanf:"retention_days"`
	CleanupSchedule string        `koanf:"cleanup_schedule"`
}

// AlertsConfig tunes evaluation, retention and delivery channels.
type AlertsConfig struct {
	EvaluationInterval   time.Duration `koanf:"evaluation_interval"`
	EvaluationWindow     time.Duration `koanf:"evaluation_window"`
	DispatchTimeout      time.Duration `koanf:"dispatch_timeout"`
	ChannelRatePerMinute int           `koanf:"channel_rate_per_minute"`
	RetentionDays        int           `koanf:"retention_days"`
	PurgeSchedule        string        `koanf:"purge_schedule"`
	RulesFile            string        `koanf:"rules_file"`
	// AllowPrivateDestinations permits webhook targets on private networks.
	AllowPrivateDestinations bool `koanf:"allow_private_destinations"`

	Webhook  WebhookConfig `koanf:"webhook"`
	Slack    SlackConfig   `koanf:"slack"`
	Email    EmailConfig   `koanf:"email"`
	Shoutrrr []string      `koanf:"shoutrrr"`
}

type WebhookConfig struct {
	URL        string `koanf:"url"`
	AuthHeader string `koanf:"auth_header"`
}

type SlackConfig struct {
	WebhookURL string `koanf:"webhook_url"`
	Channel    string `koanf:"channel"`
}

type EmailConfig struct {
	Host     string   `koanf:"host"`
	Port     int      `koanf:"port"`
	Username string   `koanf:"username"`
	Password string   `koanf:"password"`
	From     string   `koanf:"from"`
	To       []string `koanf:"to"`
	UseTLS   bool     `koanf:"use_tls"`
}

// adminAPIPrefixes are the mounted admin API groups.
func adminAPIPrefixes() []string {
	return []string{"/api/v1/audit", "/api/v1/alerts", "/api/v1/access-lists", "/api/v1/ratelimit", "/api/v1/security"}
}

func adminRoutes() map[string]string {
	routes := map[string]string{
		"/api/v1/admin": "admin",
		"/admin":        "manager",
	}
	for _, p := range adminAPIPrefixes() {
		routes[p] = "admin"
	}
	return routes
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Environment:  "development",
		HTTPPort:     "8080",
		DatabasePath: filepath.Join("data", "sentinel.db"),
		LogDir:       filepath.Join("data", "logs"),
		Security: SecurityConfig{
			Enabled:           true,
			SensitivePaths:    append(adminAPIPrefixes(), "/api/v1/admin", "/api/v1/settings", "/api/v1/users", "/api/v1/identities", "/admin"),
			ProtectedRoutes:   adminRoutes(),
			AdminPrefixes:     append(adminAPIPrefixes(), "/api/v1/admin"),
			LoginPath:         "/login",
			JWTIssuer:         "sentinel",
			SessionCookie:     "auth_token",
			HSTS:              true,
			AccessListRefresh: time.Minute,
		},
		RateLimit: RateLimitConfig{
			Backend:       "memory",
			SweepInterval: 5 * time.Minute,
			AuthPaths:     []string{"/api/auth", "/api/v1/auth", "/login", "/auth"},
			HealthPaths:   []string{"/health", "/healthz", "/api/v1/health"},
			Global:        StoreConfig{MaxRequests: 300, Window: time.Minute, BlockDuration: 5 * time.Minute},
			API:           StoreConfig{MaxRequests: 100, Window: time.Minute, BlockDuration: 5 * time.Minute},
			Auth: StoreConfig{
				MaxRequests:   5,
				Window:        15 * time.Minute,
				BlockDuration: 15 * time.Minute,
				Escalation:    EscalationConfig{Enabled: true, Multiplier: 2, MaxBlock: 24 * time.Hour, ResetAfter: 24 * time.Hour},
			},
			Admin: StoreConfig{MaxRequests: 50, Window: time.Minute, BlockDuration: 10 * time.Minute},
		},
		Audit: AuditConfig{
			FlushInterval:   30 * time.Second,
			BatchSize:       100,
			MaxQueue:        10000,
			OverflowPolicy:  "drop_oldest_low",
			RetentionDays:   90,
			CleanupSchedule: "@daily",
		},
		Alerts: AlertsConfig{
			EvaluationInterval:   30 * time.Second,
			EvaluationWindow:     5 * time.Minute,
			DispatchTimeout:      10 * time.Second,
			ChannelRatePerMinute: 30,
			RetentionDays:        30,
			PurgeSchedule:        "@daily",
		},
	}
}

// Load merges defaults, the optional YAML file named by SENTINEL_CONFIG and
// SENTINEL_* environment variables, then ensures the data directory exists.
func Load() (Config, error) {
	path := os.Getenv(EnvPrefix + "CONFIG")
	required := path != ""
	if path == "" {
		path = DefaultConfigFile
	}
	return LoadFile(path, required)
}

// LoadFile is Load with an explicit file. A missing file is an error only
// when required is set.
func LoadFile(path string, required bool) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if required || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func envKey(key, value string) (string, interface{}) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		return "", nil
	}
	key = strings.ReplaceAll(key, "__", ".")
	if strings.Contains(value, ",") {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return key, parts
	}
	return key, value
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.RedisURL == "" {
			return errors.New("rate_limit.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", c.RateLimit.Backend)
	}
	switch c.Audit.OverflowPolicy {
	case "drop_oldest_low", "reject_new_low":
	default:
		return fmt.Errorf("unknown audit.overflow_policy %q", c.Audit.OverflowPolicy)
	}
	for prefix, role := range c.Security.ProtectedRoutes {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("security.protected_routes: %q must start with /", prefix)
		}
		if role == "" {
			return fmt.Errorf("security.protected_routes: %q has no role", prefix)
		}
	}
	return nil
}
