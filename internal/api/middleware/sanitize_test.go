package middleware

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("X-API-Key", "sk_live")
	h.Set("User-Agent", "curl/8.0\r\nInjected: yes")
	h.Set("X-Long", strings.Repeat("a", 500))

	out := SanitizeHeaders(h)
	assert.Equal(t, []string{"<redacted>"}, out["Authorization"])
	assert.Equal(t, []string{"<redacted>"}, out["X-Api-Key"])
	assert.NotContains(t, out["User-Agent"][0], "\n")
	assert.Len(t, out["X-Long"][0], 200)
	assert.Nil(t, SanitizeHeaders(nil))
}

func TestSanitizePath(t *testing.T) {
	assert.Equal(t, "/api/v1/items", SanitizePath("/api/v1/items?secret=1"))
	assert.Equal(t, "/a b", SanitizePath("/a\nb"))
}

func TestSanitizeQuery(t *testing.T) {
	q := SanitizeQuery("token=abc&page=2&Password=hunter2")
	assert.Contains(t, q, "page=2")
	assert.NotContains(t, q, "abc")
	assert.NotContains(t, q, "hunter2")
	assert.Equal(t, "", SanitizeQuery(""))
	assert.Equal(t, "<unparseable>", SanitizeQuery("a=%zz"))
}
