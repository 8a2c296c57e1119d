package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/sentinel/backend/internal/api/middleware"
	"github.com/Wikid82/sentinel/backend/internal/audit"
)

// ChangeRecorder receives audit records for administrative changes.
type ChangeRecorder interface {
	LogDataChange(ctx context.Context, actor audit.Actor, table, id, operation string, oldValues, newValues map[string]interface{}) error
}

// actorFrom describes the caller of an administrative request.
func actorFrom(c *gin.Context) audit.Actor {
	a := audit.Actor{
		SourceIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if id, ok := middleware.CurrentIdentity(c); ok {
		a.ID = id.UserID
		a.OrganizationID = id.OrganizationID
		a.StoreID = id.StoreID
	}
	return a
}

func recordChange(c *gin.Context, rec ChangeRecorder, table, id, op string, oldValues, newValues map[string]interface{}) {
	if rec == nil {
		return
	}
	if err := rec.LogDataChange(c.Request.Context(), actorFrom(c), table, id, op, oldValues, newValues); err != nil {
		middleware.GetRequestLogger(c).WithError(err).WithField("table", table).Warn("failed to audit change")
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ID"})
		return 0, false
	}
	return uint(id), true
}

func internalError(c *gin.Context, err error, msg string) {
	middleware.GetRequestLogger(c).WithError(err).Error(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
