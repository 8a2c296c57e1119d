package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/sentinel/backend/internal/models"
	"github.com/Wikid82/sentinel/backend/internal/services"
)

type AccessListHandler struct {
	service *services.AccessListService
	changes ChangeRecorder
}

func NewAccessListHandler(service *services.AccessListService, changes ChangeRecorder) *AccessListHandler {
	return &AccessListHandler{service: service, changes: changes}
}

func aclValues(acl *models.AccessList) map[string]interface{} {
	return map[string]interface{}{
		"name":     acl.Name,
		"type":     acl.Type,
		"ip_rules": acl.IPRules,
		"enabled":  acl.Enabled,
	}
}

func (h *AccessListHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAccessListNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "access list not found"})
	case errors.Is(err, services.ErrInvalidIPAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid IP address"})
	case errors.Is(err, services.ErrInvalidAccessListType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be allow or deny"})
	default:
		internalError(c, err, "access list operation failed")
	}
}

// Create handles POST /api/v1/access-lists
func (h *AccessListHandler) Create(c *gin.Context) {
	var acl models.AccessList
	if err := c.ShouldBindJSON(&acl); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.Create(c.Request.Context(), &acl); err != nil {
		if errors.Is(err, services.ErrInvalidIPAddress) || errors.Is(err, services.ErrInvalidAccessListType) {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recordChange(c, h.changes, "access_lists", acl.UUID, "create", nil, aclValues(&acl))
	c.JSON(http.StatusCreated, acl)
}

// List handles GET /api/v1/access-lists
func (h *AccessListHandler) List(c *gin.Context) {
	acls, err := h.service.List(c.Request.Context())
	if err != nil {
		internalError(c, err, "failed to list access lists")
		return
	}
	c.JSON(http.StatusOK, acls)
}

// Get handles GET /api/v1/access-lists/:id
func (h *AccessListHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	acl, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acl)
}

// Update handles PUT /api/v1/access-lists/:id
func (h *AccessListHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var updates models.AccessList
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	before, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	acl, err := h.service.Update(c.Request.Context(), id, &updates)
	if err != nil {
		if errors.Is(err, services.ErrAccessListNotFound) || errors.Is(err, services.ErrInvalidIPAddress) || errors.Is(err, services.ErrInvalidAccessListType) {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recordChange(c, h.changes, "access_lists", acl.UUID, "update", aclValues(before), aclValues(acl))
	c.JSON(http.StatusOK, acl)
}

// Delete handles DELETE /api/v1/access-lists/:id
func (h *AccessListHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	before, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}

	recordChange(c, h.changes, "access_lists", before.UUID, "delete", aclValues(before), nil)
	c.JSON(http.StatusOK, gin.H{"message": "access list deleted"})
}

// TestIP handles POST /api/v1/access-lists/:id/test
func (h *AccessListHandler) TestIP(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req struct {
		IPAddress string `json:"ip_address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	allowed, reason, err := h.service.TestIP(c.Request.Context(), id, req.IPAddress)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"allowed": allowed,
		"reason":  reason,
	})
}

// GetTemplates handles GET /api/v1/access-lists/templates
func (h *AccessListHandler) GetTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetTemplates())
}

// Refresh handles POST /api/v1/access-lists/refresh and reloads the
// enforced lists from the database.
func (h *AccessListHandler) Refresh(c *gin.Context) {
	if err := h.service.Refresh(c.Request.Context()); err != nil {
		internalError(c, err, "failed to refresh access lists")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "access lists refreshed"})
}
