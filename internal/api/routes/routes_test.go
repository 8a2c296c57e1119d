package routes

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/Wikid82/sentinel/backend/internal/audit"
)

func TestRegister(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	Register(router, Deps{Audit: &audit.Log{}})

	registered := make(map[string]bool)
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		"GET /metrics",
		"GET /api/v1/health",
		"GET /api/v1/audit/events",
		"GET /api/v1/audit/stats",
		"GET /api/v1/audit/export",
		"POST /api/v1/audit/cleanup",
		"GET /api/v1/audit/stream",
		"GET /api/v1/alerts",
		"GET /api/v1/alerts/stats",
		"GET /api/v1/alerts/:id",
		"POST /api/v1/alerts/:id/acknowledge",
		"POST /api/v1/alerts/:id/resolve",
		"GET /api/v1/alerts/rules",
		"PATCH /api/v1/alerts/rules/:id",
		"POST /api/v1/alerts/rules/:id/enable",
		"POST /api/v1/alerts/rules/:id/disable",
		"DELETE /api/v1/alerts/rules/:id",
		"GET /api/v1/access-lists",
		"POST /api/v1/access-lists",
		"GET /api/v1/access-lists/:id",
		"PUT /api/v1/access-lists/:id",
		"DELETE /api/v1/access-lists/:id",
		"POST /api/v1/access-lists/:id/test",
		"GET /api/v1/ratelimit",
		"GET /api/v1/ratelimit/:store/*key",
		"DELETE /api/v1/ratelimit/:store/*key",
		"GET /api/v1/security/status",
		"POST /api/v1/security/enable",
		"POST /api/v1/security/disable",
	} {
		assert.True(t, registered[want], "missing route %s", want)
	}
	assert.False(t, registered[http.MethodPost+" /api/v1/health"])
}
