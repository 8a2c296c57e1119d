package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

// SystemLogger records operational audit events.
type SystemLogger interface {
	LogSystem(ctx context.Context, action string, sev models.Severity, details models.SystemDetails) error
}

// ActionHandlerPanic is recorded when a handler panics.
const ActionHandlerPanic = "handler_panic"

// Recovery logs panic information. When verbose is true it logs stacktraces
// and basic request metadata for debugging. A non-nil sys also receives a
// high severity system event.
func Recovery(verbose bool, sys SystemLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				entry := GetRequestLogger(c)
				if verbose {
					entry.WithFields(map[string]interface{}{
						"method":  c.Request.Method,
						"path":    SanitizePath(c.Request.URL.Path),
						"headers": SanitizeHeaders(c.Request.Header),
					}).Errorf("PANIC: %v\nStacktrace:\n%s", r, debug.Stack())
				} else {
					entry.Errorf("PANIC: %v", r)
				}
				if sys != nil {
					err := sys.LogSystem(context.WithoutCancel(c.Request.Context()), ActionHandlerPanic, models.SeverityHigh, models.SystemDetails{
						Component: "http",
						Message:   c.Request.Method + " " + SanitizePath(c.Request.URL.Path),
						Error:     fmt.Sprint(r),
					})
					if err != nil {
						entry.WithError(err).Warn("failed to record panic")
					}
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
