package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/sentinel/backend/internal/cerberus"
	"github.com/Wikid82/sentinel/backend/internal/services"
)

// SecurityHandler reports and toggles the request gate.
type SecurityHandler struct {
	gate    *cerberus.Cerberus
	lists   *services.IPLists
	changes ChangeRecorder
}

func NewSecurityHandler(gate *cerberus.Cerberus, lists *services.IPLists, changes ChangeRecorder) *SecurityHandler {
	return &SecurityHandler{gate: gate, lists: lists, changes: changes}
}

// Status handles GET /api/v1/security/status
func (h *SecurityHandler) Status(c *gin.Context) {
	body := gin.H{"enabled": h.gate.IsEnabled()}
	if h.lists != nil {
		allow, deny := h.lists.Counts()
		body["allow_list_entries"] = allow
		body["deny_list_entries"] = deny
	}
	c.JSON(http.StatusOK, body)
}

// Enable handles POST /api/v1/security/enable
func (h *SecurityHandler) Enable(c *gin.Context) {
	h.toggle(c, true)
}

// Disable handles POST /api/v1/security/disable
func (h *SecurityHandler) Disable(c *gin.Context) {
	h.toggle(c, false)
}

func (h *SecurityHandler) toggle(c *gin.Context, enabled bool) {
	before := h.gate.IsEnabled()
	h.gate.SetEnabled(enabled)
	if before != enabled {
		recordChange(c, h.changes, "security_settings", "request_gate", "update",
			map[string]interface{}{"enabled": before}, map[string]interface{}{"enabled": enabled})
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}
