package ratelimit

import (
	"context"
	"net/url"
	"strings"

	"github.com/Wikid82/sentinel/backend/internal/identity"
	"github.com/Wikid82/sentinel/backend/internal/models"
)

// RequestContext is derived once per inbound request and never persisted.
type RequestContext struct {
	ClientIP  string
	Path      string
	Method    string
	UserAgent string
	Referrer  string
	// RawURL is the request URI as received, including the query string.
	RawURL   string
	Identity *identity.Identity
}

// IPList answers allow and deny list membership for a client IP.
type IPList interface {
	IsAllowed(ip string) bool
	IsDenied(ip string) bool
}

// EventLogger receives the audit events produced by the limiter.
type EventLogger interface {
	Log(ctx context.Context, ev *models.AuditEvent) error
}

// inspectable returns the text checked by the suspicious pattern heuristic:
// the raw URL, its percent-decoded form, the user agent and the referrer.
func (r RequestContext) inspectable() string {
	parts := []string{r.RawURL}
	if decoded, err := url.QueryUnescape(r.RawURL); err == nil && decoded != r.RawURL {
		parts = append(parts, decoded)
	}
	if r.RawURL == "" && r.Path != "" {
		parts = append(parts, r.Path)
	}
	parts = append(parts, r.UserAgent, r.Referrer)
	return strings.Join(parts, " ")
}

func (r RequestContext) actorID() string {
	if r.Identity == nil {
		return ""
	}
	return r.Identity.UserID
}
