package ratelimit

import (
	"math"
	"path"
	"strings"
	"time"
)

// Store names used by the request gate.
const (
	StoreGlobal = "global"
	StoreAPI    = "api"
	StoreAuth   = "auth"
	StoreAdmin  = "admin"
)

// Config describes one named limiter store: its fixed window, cooldown and
// request classification rules.
type Config struct {
	MaxRequests   int
	Window        time.Duration
	BlockDuration time.Duration
	Escalation    Escalation

	// AuthPaths are path prefixes keyed by ip:path and reported as brute force.
	AuthPaths []string
	// HealthPaths are exact paths that bypass limiting entirely.
	HealthPaths []string
	// StaticPrefixes and StaticExtensions identify static assets.
	StaticPrefixes   []string
	StaticExtensions []string

	KeyFunc func(RequestContext) string
	Skip    []func(RequestContext) bool

	// Patterns overrides the limiter's suspicious pattern set for this store.
	Patterns *PatternSet
}

// Escalation multiplies the cooldown for repeat offenders.
type Escalation struct {
	Enabled    bool
	Multiplier float64
	MaxBlock   time.Duration
	// ResetAfter forgets previous violations once a key has been quiet this long.
	ResetAfter time.Duration
}

var (
	defaultAuthPaths        = []string{"/api/auth", "/api/v1/auth", "/auth", "/login"}
	defaultHealthPaths      = []string{"/health", "/healthz", "/api/health", "/api/v1/health"}
	defaultStaticPrefixes   = []string{"/assets/", "/static/", "/_next/static/", "/images/"}
	defaultStaticExtensions = []string{".css", ".js", ".map", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp", ".woff", ".woff2", ".ttf"}
)

// DefaultStores returns the preset stores used when none are configured.
func DefaultStores() map[string]Config {
	return map[string]Config{
		StoreGlobal: {MaxRequests: 300, Window: time.Minute, BlockDuration: 5 * time.Minute},
		StoreAPI:    {MaxRequests: 100, Window: time.Minute, BlockDuration: 5 * time.Minute},
		StoreAuth: {
			MaxRequests:   5,
			Window:        15 * time.Minute,
			BlockDuration: 15 * time.Minute,
			Escalation:    Escalation{Enabled: true, Multiplier: 2, MaxBlock: 24 * time.Hour, ResetAfter: 24 * time.Hour},
		},
		StoreAdmin: {MaxRequests: 50, Window: time.Minute, BlockDuration: 10 * time.Minute},
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRequests <= 0 {
		c.MaxRequests = 100
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = c.Window
	}
	if c.AuthPaths == nil {
		c.AuthPaths = defaultAuthPaths
	}
	if c.HealthPaths == nil {
		c.HealthPaths = defaultHealthPaths
	}
	if c.StaticPrefixes == nil {
		c.StaticPrefixes = defaultStaticPrefixes
	}
	if c.StaticExtensions == nil {
		c.StaticExtensions = defaultStaticExtensions
	}
	return c
}

// blockFor returns the cooldown for the given violation count.
func (c Config) blockFor(violations int) time.Duration {
	d := c.BlockDuration
	e := c.Escalation
	if !e.Enabled || e.Multiplier <= 1 || violations <= 1 {
		return d
	}
	scaled := float64(d) * math.Pow(e.Multiplier, float64(violations-1))
	if e.MaxBlock > 0 && scaled > float64(e.MaxBlock) {
		return e.MaxBlock
	}
	if scaled > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}

// IsAuthPath reports whether p is authentication sensitive.
func (c Config) IsAuthPath(p string) bool {
	for _, prefix := range c.withDefaults().AuthPaths {
		if hasPathPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// Skips reports whether the request bypasses limiting: static assets, health
// checks and caller-supplied predicates.
func (c Config) Skips(req RequestContext) bool {
	c = c.withDefaults()
	for _, h := range c.HealthPaths {
		if req.Path == h {
			return true
		}
	}
	for _, prefix := range c.StaticPrefixes {
		if strings.HasPrefix(req.Path, prefix) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(req.Path))
	if ext != "" {
		for _, e := range c.StaticExtensions {
			if ext == e {
				return true
			}
		}
	}
	for _, skip := range c.Skip {
		if skip != nil && skip(req) {
			return true
		}
	}
	return false
}

// KeyFor derives the rate-limit key for a request.
func (c Config) KeyFor(req RequestContext) string {
	if c.KeyFunc != nil {
		if k := c.KeyFunc(req); k != "" {
			return k
		}
	}
	ip := req.ClientIP
	if ip == "" {
		ip = "unknown"
	}
	if c.IsAuthPath(req.Path) {
		return ip + ":" + req.Path
	}
	return ip
}

func hasPathPrefix(p, prefix string) bool {
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	if len(p) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return p[len(prefix)] == '/'
}
