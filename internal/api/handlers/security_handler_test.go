package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/sentinel/backend/internal/api/handlers"
	"github.com/Wikid82/sentinel/backend/internal/cerberus"
	"github.com/Wikid82/sentinel/backend/internal/services"
)

func TestSecurityHandler(t *testing.T) {
	lists, err := services.NewIPLists([]string{"10.0.0.0/8"}, []string{"203.0.113.0/24", "198.51.100.4"})
	require.NoError(t, err)
	gate := cerberus.New(cerberus.Config{Enabled: true}, lists, nil, nil, nil)
	changes := &changeLog{}

	router := newRouter()
	h := handlers.NewSecurityHandler(gate, lists, changes)
	router.GET("/security/status", h.Status)
	router.POST("/security/enable", h.Enable)
	router.POST("/security/disable", h.Disable)

	w := doJSON(router, http.MethodGet, "/security/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":true,"allow_list_entries":1,"deny_list_entries":2}`, w.Body.String())

	w = doJSON(router, http.MethodPost, "/security/disable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gate.IsEnabled())
	c := changes.last(t)
	assert.Equal(t, "security_settings", c.table)
	assert.Equal(t, false, c.newValues["enabled"])

	w = doJSON(router, http.MethodPost, "/security/enable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gate.IsEnabled())
}
