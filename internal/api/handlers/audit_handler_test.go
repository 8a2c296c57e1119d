package handlers_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/sentinel/backend/internal/api/handlers"
	"github.com/Wikid82/sentinel/backend/internal/audit"
	"github.com/Wikid82/sentinel/backend/internal/models"
)

func setupAuditTestRouter(t *testing.T) (*gin.Engine, *audit.Log) {
	db := setupTestDB(t)
	log := audit.New(audit.NewGormStore(db), audit.Options{FlushInterval: time.Hour})
	t.Cleanup(func() { _ = log.Close(context.Background()) })

	router := newRouter()
	h := handlers.NewAuditHandler(log, 90)
	router.GET("/audit/events", h.ListEvents)
	router.GET("/audit/stats", h.Stats)
	router.GET("/audit/export", h.Export)
	router.POST("/audit/cleanup", h.Cleanup)
	router.GET("/audit/stream", h.Stream)
	return router, log
}

func seedAudit(t *testing.T, log *audit.Log) {
	ctx := context.Background()
	actor := audit.Actor{ID: "u-1", OrganizationID: "org-1", SourceIP: "203.0.113.4"}
	require.NoError(t, log.LogAuth(ctx, actor, models.ActionLoginFailure, models.AuthDetails{Method: "password", Reason: "bad password"}))
	require.NoError(t, log.LogSecurity(ctx, actor, models.ActionUnauthorizedAccess, models.SeverityHigh, models.SecurityDetails{Path: "/admin"}))
	require.NoError(t, log.LogSystem(ctx, "startup", models.SeverityLow, models.SystemDetails{Component: "test"}))
	require.NoError(t, log.Flush(ctx))
}

func TestAuditHandler_ListEvents(t *testing.T) {
	router, log := setupAuditTestRouter(t)
	seedAudit(t, log)

	w := doJSON(router, http.MethodGet, "/audit/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page audit.Page
	decode(t, w, &page)
	assert.EqualValues(t, 3, page.Total)

	w = doJSON(router, http.MethodGet, "/audit/events?severity=HIGH", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &page)
	require.Len(t, page.Events, 1)
	assert.Equal(t, models.ActionUnauthorizedAccess, page.Events[0].Action)

	w = doJSON(router, http.MethodGet, "/audit/events?category=auth&actor_id=u-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &page)
	assert.Len(t, page.Events, 1)

	w = doJSON(router, http.MethodGet, "/audit/events?severity=urgent", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(router, http.MethodGet, "/audit/events?category=billing", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditHandler_StatsAndExport(t *testing.T) {
	router, log := setupAuditTestRouter(t)
	seedAudit(t, log)

	w := doJSON(router, http.MethodGet, "/audit/stats?organization_id=org-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "total")

	w = doJSON(router, http.MethodGet, "/audit/export?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
	assert.Equal(t, "3", w.Header().Get("X-Export-Count"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, 4, "header plus one row per event")

	w = doJSON(router, http.MethodGet, "/audit/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = doJSON(router, http.MethodGet, "/audit/export?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditHandler_Cleanup(t *testing.T) {
	router, log := setupAuditTestRouter(t)
	ctx := context.Background()

	old := &models.AuditEvent{Action: "legacy", Category: models.CategorySystem, CreatedAt: time.Now().AddDate(0, 0, -120)}
	require.NoError(t, log.Log(ctx, old))
	seedAudit(t, log)

	w := doJSON(router, http.MethodPost, "/audit/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Deleted       int64 `json:"deleted"`
		RetentionDays int   `json:"retention_days"`
	}
	decode(t, w, &resp)
	assert.EqualValues(t, 1, resp.Deleted)
	assert.Equal(t, 90, resp.RetentionDays)

	w = doJSON(router, http.MethodPost, "/audit/cleanup", map[string]int{"retention_days": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditHandler_Stream(t *testing.T) {
	router, log := setupAuditTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/audit/stream?min_severity=high", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	readUntil := func(prefix string) string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, prefix) {
				return line
			}
		}
	}
	readUntil("event:ready")

	actor := audit.Actor{ID: "u-9", SourceIP: "198.51.100.9"}
	require.NoError(t, log.LogSecurity(context.Background(), actor, "noise", models.SeverityLow, models.SecurityDetails{}))
	require.NoError(t, log.LogSecurity(context.Background(), actor, models.ActionSuspiciousActivity, models.SeverityHigh, models.SecurityDetails{Detector: "path_traversal"}))

	readUntil("event:audit")
	data := readUntil("data:")
	assert.Contains(t, data, models.ActionSuspiciousActivity)
	assert.NotContains(t, data, "noise")
}

func TestAuditHandler_StreamRejectsUnknownSeverity(t *testing.T) {
	router, _ := setupAuditTestRouter(t)
	w := doJSON(router, http.MethodGet, "/audit/stream?min_severity=loud", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
