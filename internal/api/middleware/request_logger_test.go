package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/sentinel/backend/internal/logger"
)

func TestRequestLoggerIncludesRequestID(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.Init(true, buf)

	router := gin.New()
	router.Use(RequestID())
	router.Use(RequestLogger())
	router.GET("/ok", func(c *gin.Context) { c.String(200, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/ok?token=abc123&page=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", w.Code)
	}
	out := buf.String()
	if !strings.Contains(out, "request_id") {
		t.Fatalf("expected log output to include request_id: %s", out)
	}
	if !strings.Contains(out, "handled request") {
		t.Fatalf("expected log output to indicate handled request: %s", out)
	}
	if strings.Contains(out, "abc123") {
		t.Fatalf("query token leaked into log: %s", out)
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.Init(false, buf)

	router := gin.New()
	router.Use(RequestLogger("/health"))
	router.GET("/health", func(c *gin.Context) { c.String(200, "ok") })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/broken", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	for _, p := range []string{"/health", "/missing", "/broken"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	out := buf.String()
	if strings.Contains(out, `"path":"/health"`) {
		t.Fatalf("quiet path logged at info level: %s", out)
	}
	if !strings.Contains(out, `"level":"warning"`) {
		t.Fatalf("expected a warning entry for 404: %s", out)
	}
	if !strings.Contains(out, `"level":"error"`) {
		t.Fatalf("expected an error entry for 502: %s", out)
	}
}
