// Package cerberus is the request gate: it composes the allow/deny lists,
// the rate limiter, sensitive endpoint auditing and identity checks into one
// gin middleware.
package cerberus

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/sentinel/backend/internal/identity"
	"github.com/Wikid82/sentinel/backend/internal/logger"
	"github.com/Wikid82/sentinel/backend/internal/metrics"
	"github.com/Wikid82/sentinel/backend/internal/models"
	"github.com/Wikid82/sentinel/backend/internal/ratelimit"
	"github.com/Wikid82/sentinel/backend/internal/util"
)

// IdentityKey is the gin context key holding the resolved *identity.Identity.
const IdentityKey = "identity"

// Rejection reasons used in redirects and audit metadata.
const (
	ReasonAuthRequired     = "authentication_required"
	ReasonAccountInactive  = "account_inactive"
	ReasonInsufficientRole = "insufficient_role"
)

// Route requires MinRole for every path under Prefix.
type Route struct {
	Prefix  string
	MinRole string
}

// Config describes the gate.
type Config struct {
	Enabled bool
	// SensitivePaths are prefixes whose access is audited at low severity.
	SensitivePaths []string
	// ProtectedRoutes are matched longest prefix first.
	ProtectedRoutes []Route
	// LoginPath receives page requests that fail authorization.
	LoginPath string
	// APIPrefix separates API requests (JSON errors) from pages (redirects).
	APIPrefix string
	// AdminPrefixes select the admin rate limit store.
	AdminPrefixes []string
	Headers       HeaderConfig
}

// RoutesFromMap converts a prefix to role map into routes.
func RoutesFromMap(m map[string]string) []Route {
	routes := make([]Route, 0, len(m))
	for prefix, role := range m {
		routes = append(routes, Route{Prefix: prefix, MinRole: role})
	}
	return routes
}

// Cerberus runs the gate pipeline.
type Cerberus struct {
	cfg      Config
	enabled  atomic.Bool
	lists    ratelimit.IPList
	limiter  *ratelimit.Limiter
	events   ratelimit.EventLogger
	provider identity.Provider
}

// New creates a gate. Any of lists, limiter, events and provider may be nil,
// which disables the corresponding step.
func New(cfg Config, lists ratelimit.IPList, limiter *ratelimit.Limiter, events ratelimit.EventLogger, provider identity.Provider) *Cerberus {
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/"
	}
	if len(cfg.AdminPrefixes) == 0 {
		cfg.AdminPrefixes = []string{"/api/v1/admin"}
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	routes := append([]Route(nil), cfg.ProtectedRoutes...)
	sort.SliceStable(routes, func(i, j int) bool { return len(routes[i].Prefix) > len(routes[j].Prefix) })
	cfg.ProtectedRoutes = routes

	c := &Cerberus{cfg: cfg, lists: lists, limiter: limiter, events: events, provider: provider}
	c.enabled.Store(cfg.Enabled)
	return c
}

// IsEnabled reports whether the gate enforces anything.
func (c *Cerberus) IsEnabled() bool {
	return c.enabled.Load()
}

// SetEnabled toggles enforcement at runtime.
func (c *Cerberus) SetEnabled(v bool) {
	c.enabled.Store(v)
	logger.Source("cerberus").WithField("enabled", v).Info("request gate toggled")
}

func requestContext(ctx *gin.Context) ratelimit.RequestContext {
	raw := ctx.Request.RequestURI
	if raw == "" {
		raw = ctx.Request.URL.RequestURI()
	}
	return ratelimit.RequestContext{
		ClientIP:  ctx.ClientIP(),
		Path:      ctx.Request.URL.Path,
		Method:    ctx.Request.Method,
		UserAgent: ctx.Request.UserAgent(),
		Referrer:  ctx.Request.Referer(),
		RawURL:    raw,
	}
}

// Middleware returns the gin middleware enforcing the gate.
func (c *Cerberus) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !c.IsEnabled() {
			ctx.Next()
			return
		}
		req := requestContext(ctx)

		// 1. static assets and health checks bypass everything
		if c.skips(req) {
			metrics.IncGateDecision("skipped")
			ctx.Next()
			return
		}

		// 2. deny list
		if c.lists != nil && c.lists.IsDenied(req.ClientIP) {
			metrics.IncGateDecision("denied")
			c.emit(ctx.Request.Context(), req, models.ActionUnauthorizedAccess, models.SeverityCritical, &models.SecurityDetails{
				Reason:   "deny_list",
				Detector: "access_list",
				Path:     req.Path,
				Method:   req.Method,
			})
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied"})
			return
		}

		// 3. allow list skips rate limiting and endpoint auditing
		allowListed := c.lists != nil && c.lists.IsAllowed(req.ClientIP)

		id, idErr := c.resolve(ctx)
		req.Identity = id

		if !allowListed {
			// 4. rate limiting and attack signatures
			if c.limiter != nil {
				d := c.limiter.CheckStore(ctx.Request.Context(), req, c.storeFor(req))
				for k, v := range d.Headers() {
					ctx.Header(k, v)
				}
				if !d.Allowed {
					c.reject(ctx, d)
					return
				}
			}

			// 5. traceability for sensitive endpoints
			if matchesAny(req.Path, c.cfg.SensitivePaths) {
				c.emit(ctx.Request.Context(), req, models.ActionSensitiveEndpointAccess, models.SeverityLow, &models.SecurityDetails{
					Detector: "sensitive_endpoint",
					Path:     req.Path,
					Method:   req.Method,
				})
			}
		}

		// 6. identity and role
		if route, ok := c.protectedRoute(req.Path); ok {
			if reason := authorize(id, idErr, route.MinRole); reason != "" {
				metrics.IncGateDecision("unauthorized")
				actual := ""
				if id != nil {
					actual = id.Role
				}
				c.emit(ctx.Request.Context(), req, models.ActionUnauthorizedAccess, models.SeverityHigh, &models.SecurityDetails{
					Reason:       reason,
					Detector:     "authorization",
					Path:         req.Path,
					Method:       req.Method,
					RequiredRole: route.MinRole,
					ActualRole:   actual,
				})
				c.unauthorized(ctx, reason)
				return
			}
		}

		if id != nil {
			ctx.Set(IdentityKey, id)
			ctx.Request = ctx.Request.WithContext(identity.WithIdentity(ctx.Request.Context(), id))
		}

		// 7. protective headers
		c.cfg.Headers.Apply(ctx.Writer.Header())
		if allowListed {
			metrics.IncGateDecision("allow_listed")
		} else {
			metrics.IncGateDecision("allowed")
		}
		ctx.Next()
	}
}

func (c *Cerberus) skips(req ratelimit.RequestContext) bool {
	if c.limiter == nil {
		return false
	}
	cfg, _ := c.limiter.StoreConfig(ratelimit.StoreGlobal)
	return cfg.Skips(req)
}

func (c *Cerberus) storeFor(req ratelimit.RequestContext) string {
	if c.limiter != nil {
		if cfg, _ := c.limiter.StoreConfig(ratelimit.StoreAuth); cfg.IsAuthPath(req.Path) {
			return ratelimit.StoreAuth
		}
	}
	switch {
	case matchesAny(req.Path, c.cfg.AdminPrefixes):
		return ratelimit.StoreAdmin
	case strings.HasPrefix(req.Path, c.cfg.APIPrefix):
		return ratelimit.StoreAPI
	default:
		return ratelimit.StoreGlobal
	}
}

func (c *Cerberus) resolve(ctx *gin.Context) (*identity.Identity, error) {
	if c.provider == nil {
		return nil, identity.ErrNoCredentials
	}
	id, err := c.provider.Resolve(ctx.Request.Context(), ctx.Request)
	if err != nil {
		if !errors.Is(err, identity.ErrNoCredentials) {
			logger.Source("cerberus").WithError(err).WithField("path", util.SanitizeForLog(ctx.Request.URL.Path)).Debug("credentials rejected")
		}
		return nil, err
	}
	return id, nil
}

func authorize(id *identity.Identity, err error, minRole string) string {
	switch {
	case err != nil || id == nil:
		return ReasonAuthRequired
	case !id.Active():
		return ReasonAccountInactive
	case !id.HasRole(minRole):
		return ReasonInsufficientRole
	}
	return ""
}

func (c *Cerberus) protectedRoute(path string) (Route, bool) {
	for _, r := range c.cfg.ProtectedRoutes {
		if hasPathPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return Route{}, false
}

func (c *Cerberus) reject(ctx *gin.Context, d *ratelimit.Decision) {
	metrics.IncGateDecision(string(d.Outcome))
	switch d.Outcome {
	case ratelimit.OutcomeLimited, ratelimit.OutcomeBlocked:
		ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Too many requests",
			"retry_after": d.RetryAfterSeconds(),
		})
	default:
		// suspicious payloads and deny list hits share one generic answer
		ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied"})
	}
}

func (c *Cerberus) unauthorized(ctx *gin.Context, reason string) {
	if strings.HasPrefix(ctx.Request.URL.Path, c.cfg.APIPrefix) {
		status := http.StatusForbidden
		msg := "Forbidden"
		if reason == ReasonAuthRequired {
			status = http.StatusUnauthorized
			msg = "Authentication required"
		}
		ctx.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	target := c.cfg.LoginPath + "?error=" + url.QueryEscape(reason)
	if ctx.Request.Method == http.MethodGet {
		target += "&next=" + url.QueryEscape(ctx.Request.URL.RequestURI())
	}
	ctx.Redirect(http.StatusFound, target)
	ctx.Abort()
}

func (c *Cerberus) emit(ctx context.Context, req ratelimit.RequestContext, action string, sev models.Severity, details *models.SecurityDetails) {
	fields := logrus.Fields{
		"action":    action,
		"client_ip": req.ClientIP,
		"path":      util.SanitizeForLog(req.Path),
	}
	if c.events == nil {
		logger.Source("cerberus").WithFields(fields).Warn("security event without audit log")
		return
	}
	ev := &models.AuditEvent{
		Action:    action,
		SourceIP:  req.ClientIP,
		UserAgent: req.UserAgent,
		Severity:  sev,
		Category:  models.CategorySecurity,
	}
	if req.Identity != nil {
		ev.ActorID = req.Identity.UserID
		ev.OrganizationID = req.Identity.OrganizationID
		ev.StoreID = req.Identity.StoreID
	}
	ev.Metadata.Security = details
	if err := c.events.Log(ctx, ev); err != nil {
		logger.Source("cerberus").WithFields(fields).WithError(err).Error("failed to record security event")
	}
}

func matchesAny(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if hasPathPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// hasPathPrefix matches whole path segments, so /admin matches /admin/users
// but not /administrator.
func hasPathPrefix(p, prefix string) bool {
	if prefix == "" {
		return false
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
