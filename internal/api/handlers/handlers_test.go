package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Wikid82/sentinel/backend/internal/api/middleware"
	"github.com/Wikid82/sentinel/backend/internal/audit"
	"github.com/Wikid82/sentinel/backend/internal/database"
	"github.com/Wikid82/sentinel/backend/internal/identity"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory("handlers_" + strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	return db
}

type change struct {
	actor     audit.Actor
	table     string
	id        string
	operation string
	oldValues map[string]interface{}
	newValues map[string]interface{}
}

type changeLog struct {
	mu      sync.Mutex
	changes []change
}

func (l *changeLog) LogDataChange(_ context.Context, actor audit.Actor, table, id, operation string, oldValues, newValues map[string]interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, change{actor, table, id, operation, oldValues, newValues})
	return nil
}

func (l *changeLog) last(t *testing.T) change {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotEmpty(t, l.changes)
	return l.changes[len(l.changes)-1]
}

// newRouter returns a router whose requests run as an admin operator.
func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.IdentityKey, &identity.Identity{UserID: "op-1", Role: identity.RoleAdmin})
		c.Next()
	})
	return r
}

func doJSON(r http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
