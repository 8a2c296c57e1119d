package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/sentinel/backend/internal/api/handlers"
	"github.com/Wikid82/sentinel/backend/internal/ratelimit"
)

func setupRateLimitTestRouter(t *testing.T) (*gin.Engine, *ratelimit.Limiter, *changeLog) {
	limiter := ratelimit.New(ratelimit.NewMemoryStore())
	changes := &changeLog{}

	router := newRouter()
	h := handlers.NewRateLimitHandler(limiter, changes)
	router.GET("/ratelimit", h.Stores)
	router.GET("/ratelimit/:store/*key", h.Get)
	router.DELETE("/ratelimit/:store/*key", h.Reset)
	return router, limiter, changes
}

func exhaust(t *testing.T, limiter *ratelimit.Limiter, path string, n int) {
	t.Helper()
	req := ratelimit.RequestContext{ClientIP: "203.0.113.20", Path: path, Method: http.MethodPost}
	for i := 0; i < n; i++ {
		limiter.CheckStore(context.Background(), req, ratelimit.StoreAuth)
	}
}

func TestRateLimitHandler_Stores(t *testing.T) {
	router, _, _ := setupRateLimitTestRouter(t)

	w := doJSON(router, http.MethodGet, "/ratelimit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Stores []struct {
			Name          string `json:"name"`
			MaxRequests   int    `json:"max_requests"`
			WindowSeconds int    `json:"window_seconds"`
			Escalation    bool   `json:"escalation"`
		} `json:"stores"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Stores, 4)
	assert.Equal(t, "admin", resp.Stores[0].Name)
	auth := resp.Stores[2]
	assert.Equal(t, "auth", auth.Name)
	assert.Equal(t, 5, auth.MaxRequests)
	assert.Equal(t, 900, auth.WindowSeconds)
	assert.True(t, auth.Escalation)
}

func TestRateLimitHandler_InspectAndReset(t *testing.T) {
	router, limiter, changes := setupRateLimitTestRouter(t)
	exhaust(t, limiter, "/api/v1/auth/login", 6)

	key := "203.0.113.20:/api/v1/auth/login"
	w := doJSON(router, http.MethodGet, "/ratelimit/auth/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Entries []ratelimit.Entry `json:"entries"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Entries, 1)
	assert.Equal(t, key, listed.Entries[0].Key)

	w = doJSON(router, http.MethodGet, "/ratelimit/auth/"+key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entry ratelimit.Entry
	decode(t, w, &entry)
	assert.Equal(t, 6, entry.Count)
	assert.NotNil(t, entry.BlockedUntil)

	w = doJSON(router, http.MethodDelete, "/ratelimit/auth/"+key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	c := changes.last(t)
	assert.Equal(t, "rate_limit_entries", c.table)
	assert.Equal(t, "delete", c.operation)

	w = doJSON(router, http.MethodGet, "/ratelimit/auth/"+key, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	d := limiter.CheckStore(context.Background(), ratelimit.RequestContext{ClientIP: "203.0.113.20", Path: "/api/v1/auth/login"}, ratelimit.StoreAuth)
	assert.True(t, d.Allowed, "reset lifts the cooldown")
}

func TestRateLimitHandler_Errors(t *testing.T) {
	router, _, _ := setupRateLimitTestRouter(t)

	w := doJSON(router, http.MethodGet, "/ratelimit/bogus/", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(router, http.MethodDelete, "/ratelimit/api/", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(router, http.MethodGet, "/ratelimit/api/198.51.100.1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
