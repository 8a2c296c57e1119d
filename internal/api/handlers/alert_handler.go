package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/sentinel/backend/internal/alerting"
	"github.com/Wikid82/sentinel/backend/internal/models"
)

// AlertHandler manages stored alerts and the live rule set.
type AlertHandler struct {
	engine  *alerting.Engine
	changes ChangeRecorder
}

func NewAlertHandler(engine *alerting.Engine, changes ChangeRecorder) *AlertHandler {
	return &AlertHandler{engine: engine, changes: changes}
}

func (h *AlertHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, alerting.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case errors.Is(err, alerting.ErrAlertAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "alert already resolved"})
	case errors.Is(err, alerting.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert rule not found"})
	case errors.Is(err, alerting.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		internalError(c, err, "alert operation failed")
	}
}

// List handles GET /api/v1/alerts
func (h *AlertHandler) List(c *gin.Context) {
	var f alerting.AlertFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if f.Severity != "" {
		sev, ok := models.ParseSeverity(string(f.Severity))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity"})
			return
		}
		f.Severity = sev
	}

	alerts, total, err := h.engine.GetAlerts(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "total": total})
}

// Get handles GET /api/v1/alerts/:id
func (h *AlertHandler) Get(c *gin.Context) {
	alert, err := h.engine.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// Stats handles GET /api/v1/alerts/stats
func (h *AlertHandler) Stats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Acknowledge handles POST /api/v1/alerts/:id/acknowledge
func (h *AlertHandler) Acknowledge(c *gin.Context) {
	actor := actorFrom(c)
	alert, err := h.engine.Acknowledge(c.Request.Context(), c.Param("id"), actor.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	recordChange(c, h.changes, "security_alerts", alert.ID, "acknowledge", nil, map[string]interface{}{"acknowledged": true})
	c.JSON(http.StatusOK, alert)
}

// Resolve handles POST /api/v1/alerts/:id/resolve
func (h *AlertHandler) Resolve(c *gin.Context) {
	actor := actorFrom(c)
	alert, err := h.engine.Resolve(c.Request.Context(), c.Param("id"), actor.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	recordChange(c, h.changes, "security_alerts", alert.ID, "resolve", nil, map[string]interface{}{"resolved": true})
	c.JSON(http.StatusOK, alert)
}

// ListRules handles GET /api/v1/alerts/rules
func (h *AlertHandler) ListRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.engine.Rules(), "channels": h.engine.ChannelNames()})
}

// GetRule handles GET /api/v1/alerts/rules/:id
func (h *AlertHandler) GetRule(c *gin.Context) {
	rule, err := h.engine.Rule(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule handles PATCH /api/v1/alerts/rules/:id
func (h *AlertHandler) UpdateRule(c *gin.Context) {
	var patch alerting.RulePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	before, err := h.engine.Rule(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	after, err := h.engine.UpdateRule(c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	recordChange(c, h.changes, "alert_rules", after.ID, "update", ruleValues(before), ruleValues(after))
	c.JSON(http.StatusOK, after)
}

// EnableRule handles POST /api/v1/alerts/rules/:id/enable
func (h *AlertHandler) EnableRule(c *gin.Context) {
	h.setEnabled(c, true)
}

// DisableRule handles POST /api/v1/alerts/rules/:id/disable
func (h *AlertHandler) DisableRule(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *AlertHandler) setEnabled(c *gin.Context, enabled bool) {
	id := c.Param("id")
	if err := h.engine.SetEnabled(id, enabled); err != nil {
		h.writeError(c, err)
		return
	}
	rule, err := h.engine.Rule(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	recordChange(c, h.changes, "alert_rules", id, "update", map[string]interface{}{"enabled": !enabled}, map[string]interface{}{"enabled": enabled})
	c.JSON(http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/v1/alerts/rules/:id
func (h *AlertHandler) DeleteRule(c *gin.Context) {
	id := c.Param("id")
	before, err := h.engine.Rule(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.engine.RemoveRule(id); err != nil {
		h.writeError(c, err)
		return
	}
	recordChange(c, h.changes, "alert_rules", id, "delete", ruleValues(before), nil)
	c.JSON(http.StatusOK, gin.H{"message": "alert rule deleted"})
}

func ruleValues(r alerting.RuleView) map[string]interface{} {
	return map[string]interface{}{
		"name":             r.Name,
		"severity":         r.Severity,
		"enabled":          r.Enabled,
		"cooldown_seconds": r.CooldownSeconds,
		"channels":         r.Channels,
	}
}
