package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/sentinel/backend/internal/ratelimit"
)

// RateLimitHandler inspects and clears limiter state.
type RateLimitHandler struct {
	limiter *ratelimit.Limiter
	changes ChangeRecorder
}

func NewRateLimitHandler(limiter *ratelimit.Limiter, changes ChangeRecorder) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter, changes: changes}
}

type storeView struct {
	Name          string `json:"name"`
	MaxRequests   int    `json:"max_requests"`
	WindowSeconds int    `json:"window_seconds"`
	BlockSeconds  int    `json:"block_seconds"`
	Escalation    bool   `json:"escalation"`
}

func (h *RateLimitHandler) knownStore(c *gin.Context) (string, bool) {
	store := c.Param("store")
	for _, name := range h.limiter.StoreNames() {
		if name == store {
			return store, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown rate limit store"})
	return "", false
}

// Stores handles GET /api/v1/ratelimit
func (h *RateLimitHandler) Stores(c *gin.Context) {
	names := h.limiter.StoreNames()
	sort.Strings(names)
	out := make([]storeView, 0, len(names))
	for _, name := range names {
		cfg, _ := h.limiter.StoreConfig(name)
		out = append(out, storeView{
			Name:          name,
			MaxRequests:   cfg.MaxRequests,
			WindowSeconds: int(cfg.Window.Seconds()),
			BlockSeconds:  int(cfg.BlockDuration.Seconds()),
			Escalation:    cfg.Escalation.Enabled,
		})
	}
	c.JSON(http.StatusOK, gin.H{"stores": out})
}

// Get handles GET /api/v1/ratelimit/:store/*key. An empty key lists every
// entry of the store.
func (h *RateLimitHandler) Get(c *gin.Context) {
	store, ok := h.knownStore(c)
	if !ok {
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		entries, err := h.limiter.Entries(c.Request.Context(), store)
		if err != nil {
			internalError(c, err, "failed to list rate limit entries")
			return
		}
		c.JSON(http.StatusOK, gin.H{"store": store, "entries": entries})
		return
	}

	entry, err := h.limiter.Snapshot(c.Request.Context(), store, key)
	if err != nil {
		internalError(c, err, "failed to read rate limit entry")
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no entry for key"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Reset handles DELETE /api/v1/ratelimit/:store/*key and lifts any cooldown
// for the key.
func (h *RateLimitHandler) Reset(c *gin.Context) {
	store, ok := h.knownStore(c)
	if !ok {
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	if err := h.limiter.Reset(c.Request.Context(), store, key); err != nil {
		internalError(c, err, "failed to reset rate limit entry")
		return
	}
	recordChange(c, h.changes, "rate_limit_entries", store+"/"+key, "delete", map[string]interface{}{"store": store, "key": key}, nil)
	c.JSON(http.StatusOK, gin.H{"message": "rate limit entry reset"})
}
