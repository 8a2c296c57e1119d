package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/sentinel/backend/internal/logger"
	"github.com/Wikid82/sentinel/backend/internal/models"
)

type panicRecorder struct {
	action  string
	sev     models.Severity
	details models.SystemDetails
}

func (p *panicRecorder) LogSystem(_ context.Context, action string, sev models.Severity, details models.SystemDetails) error {
	p.action, p.sev, p.details = action, sev, details
	return nil
}

func panicRouter(verbose bool, sys SystemLogger, msg string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID(), Recovery(verbose, sys))
	router.GET("/panic", func(c *gin.Context) {
		panic(msg)
	})
	return router
}

func TestRecoveryLogging(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		contains  []string
		forbidden []string
	}{
		{
			name:     "verbose includes stack and request id",
			verbose:  true,
			contains: []string{"PANIC: handler exploded", "Stacktrace:", "request_id", "<redacted>"},
			// credentials never reach the log
			forbidden: []string{"secret-token", "op-key-123"},
		},
		{
			name:      "brief omits stack",
			verbose:   false,
			contains:  []string{"PANIC: handler exploded"},
			forbidden: []string{"Stacktrace:"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger.Init(tt.verbose, buf)

			req := httptest.NewRequest(http.MethodGet, "/panic", nil)
			req.Header.Set("Authorization", "Bearer secret-token")
			req.Header.Set("X-API-Key", "op-key-123")
			w := httptest.NewRecorder()
			panicRouter(tt.verbose, nil, "handler exploded").ServeHTTP(w, req)

			require.Equal(t, http.StatusInternalServerError, w.Code)
			out := buf.String()
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.forbidden {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestRecoveryRecordsSystemEvent(t *testing.T) {
	logger.Init(false, &bytes.Buffer{})
	rec := &panicRecorder{}

	w := httptest.NewRecorder()
	panicRouter(false, rec, "kaboom").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ActionHandlerPanic, rec.action)
	assert.Equal(t, models.SeverityHigh, rec.sev)
	assert.Equal(t, "kaboom", rec.details.Error)
	assert.Equal(t, "GET /panic", rec.details.Message)
	assert.Equal(t, "http", rec.details.Component)
}
