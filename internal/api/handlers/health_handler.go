package handlers

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/sentinel/backend/internal/version"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// getLocalIP returns the non-loopback local IP of the host
func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return ""
}

// HealthHandler reports build metadata and the state of the named checks.
// Any failing check turns the response into a 503 so load balancers drain
// the instance.
type HealthHandler struct {
	checks  map[string]HealthCheck
	timeout time.Duration
	queue   func() int
}

func NewHealthHandler(checks map[string]HealthCheck, queue func() int) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second, queue: queue}
}

// Get handles GET /api/v1/health
func (h *HealthHandler) Get(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = "unavailable"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := gin.H{
		"status":      status,
		"service":     version.Name,
		"version":     version.Version,
		"git_commit":  version.GitCommit,
		"build_time":  version.BuildTime,
		"internal_ip": getLocalIP(),
		"checks":      results,
	}
	if h.queue != nil {
		body["audit_queue"] = h.queue()
	}
	c.JSON(code, body)
}
