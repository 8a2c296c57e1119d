package cerberus

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// HeaderConfig controls the protective response headers.
type HeaderConfig struct {
	// HSTS adds Strict-Transport-Security. Leave it off for plain HTTP development.
	HSTS bool
	// ContentSecurityPolicy replaces the baseline policy when set.
	ContentSecurityPolicy string
	// CSPDirectives overrides individual baseline directives.
	CSPDirectives map[string]string
}

var baselineCSP = map[string]string{
	"default-src": "'self'",
	"script-src":  "'self'",
	"style-src":   "'self' 'unsafe-inline'",
	"img-src":     "'self' data: https:",
	"font-src":    "'self' data:",
	"connect-src": "'self'",
	"frame-src":   "'none'",
	"object-src":  "'none'",
	"base-uri":    "'self'",
	"form-action": "'self'",
}

var permissionsPolicy = strings.Join([]string{
	"accelerometer=()",
	"camera=()",
	"geolocation=()",
	"gyroscope=()",
	"magnetometer=()",
	"microphone=()",
	"payment=()",
	"usb=()",
}, ", ")

// CSP returns the Content-Security-Policy value. Directives are sorted so the
// header is stable.
func (h HeaderConfig) CSP() string {
	if h.ContentSecurityPolicy != "" {
		return h.ContentSecurityPolicy
	}
	directives := make(map[string]string, len(baselineCSP)+len(h.CSPDirectives))
	for k, v := range baselineCSP {
		directives[k] = v
	}
	for k, v := range h.CSPDirectives {
		directives[k] = v
	}
	keys := make([]string, 0, len(directives))
	for k := range directives {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, directives[k]))
	}
	return strings.Join(parts, "; ")
}

// Apply writes the protective headers.
func (h HeaderConfig) Apply(header http.Header) {
	header.Set("Content-Security-Policy", h.CSP())
	if h.HSTS {
		// one year, subdomains included, preload eligible
		header.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
	header.Set("X-Frame-Options", "DENY")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("X-XSS-Protection", "1; mode=block")
	header.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	header.Set("Permissions-Policy", permissionsPolicy)
	header.Set("Cross-Origin-Opener-Policy", "same-origin")
	header.Set("Cross-Origin-Resource-Policy", "same-origin")
}
