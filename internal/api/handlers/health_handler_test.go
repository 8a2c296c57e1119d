package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/sentinel/backend/internal/api/handlers"
)

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	router := newRouter()
	router.GET("/health", handlers.NewHealthHandler(map[string]handlers.HealthCheck{"database": ok}, func() int { return 7 }).Get)
	router.GET("/degraded", handlers.NewHealthHandler(map[string]handlers.HealthCheck{"database": ok, "redis": down}, nil).Get)

	w := doJSON(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status     string            `json:"status"`
		Version    string            `json:"version"`
		Checks     map[string]string `json:"checks"`
		AuditQueue int               `json:"audit_queue"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Version)
	assert.Equal(t, "ok", resp.Checks["database"])
	assert.Equal(t, 7, resp.AuditQueue)

	w = doJSON(router, http.MethodGet, "/degraded", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unavailable", resp.Checks["redis"])
	assert.NotContains(t, w.Body.String(), "connection refused")
}
