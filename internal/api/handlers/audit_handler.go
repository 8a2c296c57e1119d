package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/sentinel/backend/internal/api/middleware"
	"github.com/Wikid82/sentinel/backend/internal/audit"
	"github.com/Wikid82/sentinel/backend/internal/models"
)

// AuditHandler exposes the audit log to operators.
type AuditHandler struct {
	log           *audit.Log
	retentionDays int
	keepAlive     time.Duration
}

func NewAuditHandler(log *audit.Log, retentionDays int) *AuditHandler {
	return &AuditHandler{log: log, retentionDays: retentionDays, keepAlive: 15 * time.Second}
}

func bindFilter(c *gin.Context) (audit.Filter, bool) {
	var f audit.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return f, false
	}
	if f.Severity != "" {
		sev, ok := models.ParseSeverity(string(f.Severity))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity"})
			return f, false
		}
		f.Severity = sev
	}
	if f.Category != "" {
		cat, ok := models.ParseCategory(string(f.Category))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
			return f, false
		}
		f.Category = cat
	}
	return f, true
}

// ListEvents handles GET /api/v1/audit/events
func (h *AuditHandler) ListEvents(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	page, err := h.log.Query(c.Request.Context(), f)
	if err != nil {
		internalError(c, err, "failed to query audit events")
		return
	}
	c.JSON(http.StatusOK, page)
}

// Stats handles GET /api/v1/audit/stats
func (h *AuditHandler) Stats(c *gin.Context) {
	var scope audit.Scope
	if err := c.ShouldBindQuery(&scope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stats, err := h.log.Stats(c.Request.Context(), scope)
	if err != nil {
		internalError(c, err, "failed to compute audit statistics")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Export handles GET /api/v1/audit/export?format=csv|json
func (h *AuditHandler) Export(c *gin.Context) {
	format, err := audit.ParseFormat(c.Query("format"))
	if errors.Is(err, audit.ErrUnsupportedFormat) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or json"})
		return
	}
	f, ok := bindFilter(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	n, err := h.log.Export(c.Request.Context(), &buf, f, format)
	if err != nil {
		internalError(c, err, "failed to export audit events")
		return
	}

	filename := fmt.Sprintf("audit-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("X-Export-Count", fmt.Sprint(n))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// Cleanup handles POST /api/v1/audit/cleanup. An optional retention_days
// overrides the configured retention.
func (h *AuditHandler) Cleanup(c *gin.Context) {
	var req struct {
		RetentionDays int `json:"retention_days"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.RetentionDays < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "retention_days must be positive"})
		return
	}
	days := req.RetentionDays
	if days == 0 {
		days = h.retentionDays
	}

	deleted, err := h.log.Cleanup(c.Request.Context(), days)
	if err != nil {
		internalError(c, err, "audit cleanup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "retention_days": days})
}

// Stream handles GET /api/v1/audit/stream, a server-sent event feed of live
// events at or above min_severity (default low).
func (h *AuditHandler) Stream(c *gin.Context) {
	min := models.SeverityLow
	if v := c.Query("min_severity"); v != "" {
		sev, ok := models.ParseSeverity(v)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity"})
			return
		}
		min = sev
	}

	sub := h.log.Subscribe(min, 64)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("ready", gin.H{"min_severity": min})
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	log := middleware.GetRequestLogger(c)
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				log.Debug("audit stream closed by server")
				return
			}
			c.SSEvent("audit", ev)
			c.Writer.Flush()
		case t := <-ticker.C:
			c.SSEvent("ping", t.UTC().Format(time.RFC3339))
			c.Writer.Flush()
		}
	}
}
