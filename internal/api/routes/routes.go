package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Wikid82/sentinel/backend/internal/alerting"
	"github.com/Wikid82/sentinel/backend/internal/api/handlers"
	"github.com/Wikid82/sentinel/backend/internal/api/middleware"
	"github.com/Wikid82/sentinel/backend/internal/audit"
	"github.com/Wikid82/sentinel/backend/internal/cerberus"
	"github.com/Wikid82/sentinel/backend/internal/identity"
	"github.com/Wikid82/sentinel/backend/internal/ratelimit"
	"github.com/Wikid82/sentinel/backend/internal/services"
)

// Deps are the services the HTTP surface is built on. They are constructed
// by the server and shared with the background jobs.
type Deps struct {
	Audit         *audit.Log
	Alerts        *alerting.Engine
	Limiter       *ratelimit.Limiter
	Gate          *cerberus.Cerberus
	Lists         *services.IPLists
	AccessLists   *services.AccessListService
	Provider      identity.Provider
	HealthChecks  map[string]handlers.HealthCheck
	RetentionDays int
}

// Register wires up the public endpoints and the admin API. The request gate
// is installed by the caller on the engine so unmatched paths are covered too.
func Register(router *gin.Engine, deps Deps) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	health := handlers.NewHealthHandler(deps.HealthChecks, deps.Audit.QueueLen)

	api := router.Group("/api/v1")
	api.GET("/health", health.Get)

	admin := api.Group("/")
	admin.Use(middleware.AuthMiddleware(deps.Provider), middleware.RequireRole(identity.RoleAdmin))

	auditHandler := handlers.NewAuditHandler(deps.Audit, deps.RetentionDays)
	admin.GET("/audit/events", auditHandler.ListEvents)
	admin.GET("/audit/stats", auditHandler.Stats)
	admin.GET("/audit/export", auditHandler.Export)
	admin.POST("/audit/cleanup", auditHandler.Cleanup)
	admin.GET("/audit/stream", auditHandler.Stream)

	alertHandler := handlers.NewAlertHandler(deps.Alerts, deps.Audit)
	admin.GET("/alerts", alertHandler.List)
	admin.GET("/alerts/stats", alertHandler.Stats)
	admin.GET("/alerts/rules", alertHandler.ListRules)
	admin.GET("/alerts/rules/:id", alertHandler.GetRule)
	admin.PATCH("/alerts/rules/:id", alertHandler.UpdateRule)
	admin.POST("/alerts/rules/:id/enable", alertHandler.EnableRule)
	admin.POST("/alerts/rules/:id/disable", alertHandler.DisableRule)
	admin.DELETE("/alerts/rules/:id", alertHandler.DeleteRule)
	admin.GET("/alerts/:id", alertHandler.Get)
	admin.POST("/alerts/:id/acknowledge", alertHandler.Acknowledge)
	admin.POST("/alerts/:id/resolve", alertHandler.Resolve)

	accessListHandler := handlers.NewAccessListHandler(deps.AccessLists, deps.Audit)
	admin.GET("/access-lists", accessListHandler.List)
	admin.POST("/access-lists", accessListHandler.Create)
	admin.GET("/access-lists/templates", accessListHandler.GetTemplates)
	admin.POST("/access-lists/refresh", accessListHandler.Refresh)
	admin.GET("/access-lists/:id", accessListHandler.Get)
	admin.PUT("/access-lists/:id", accessListHandler.Update)
	admin.DELETE("/access-lists/:id", accessListHandler.Delete)
	admin.POST("/access-lists/:id/test", accessListHandler.TestIP)

	rateLimitHandler := handlers.NewRateLimitHandler(deps.Limiter, deps.Audit)
	admin.GET("/ratelimit", rateLimitHandler.Stores)
	admin.GET("/ratelimit/:store/*key", rateLimitHandler.Get)
	admin.DELETE("/ratelimit/:store/*key", rateLimitHandler.Reset)

	securityHandler := handlers.NewSecurityHandler(deps.Gate, deps.Lists, deps.Audit)
	admin.GET("/security/status", securityHandler.Status)
	admin.POST("/security/enable", securityHandler.Enable)
	admin.POST("/security/disable", securityHandler.Disable)
}
