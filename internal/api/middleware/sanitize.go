package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Wikid82/sentinel/backend/internal/util"
)

const maxLogValue = 200

// SanitizeHeaders returns a map of header keys to redacted/sanitized values
// for safe logging. Sensitive headers are redacted; other values are
// sanitized using util.SanitizeForLog and truncated.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	sensitive := map[string]struct{}{
		"authorization":       {},
		"cookie":              {},
		"set-cookie":          {},
		"proxy-authorization": {},
		"x-api-key":           {},
		"x-api-token":         {},
		"x-access-token":      {},
		"x-auth-token":        {},
		"x-api-secret":        {},
		"x-forwarded-for":     {},
	}
	out := make(map[string][]string, len(h))
	for k, vals := range h {
		keyLower := strings.ToLower(k)
		if _, ok := sensitive[keyLower]; ok {
			out[k] = []string{"<redacted>"}
			continue
		}
		sanitizedVals := make([]string, 0, len(vals))
		for _, v := range vals {
			sanitizedVals = append(sanitizedVals, util.Truncate(util.SanitizeForLog(v), maxLogValue))
		}
		out[k] = sanitizedVals
	}
	return out
}

// SanitizePath prepares a request path for safe logging by removing
// control characters and truncating long values. It does not include
// query parameters.
func SanitizePath(p string) string {
	// remove query string
	if i := strings.Index(p, "?"); i != -1 {
		p = p[:i]
	}
	return util.Truncate(util.SanitizeForLog(p), maxLogValue)
}

var sensitiveParams = map[string]struct{}{
	"token":        {},
	"access_token": {},
	"api_key":      {},
	"apikey":       {},
	"password":     {},
	"secret":       {},
	"code":         {},
}

// SanitizeQuery redacts credential-like query parameters so a raw query can
// be logged. Unparseable input is dropped.
func SanitizeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "<unparseable>"
	}
	for k := range values {
		if _, ok := sensitiveParams[strings.ToLower(k)]; ok {
			values[k] = []string{"<redacted>"}
		}
	}
	return util.Truncate(util.SanitizeForLog(values.Encode()), maxLogValue)
}
