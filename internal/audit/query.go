package audit

import (
	"time"

	"gorm.io/gorm"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

// Query limits.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
	maxExportRows     = 10000
)

// Filter selects audit events. Zero values are ignored.
type Filter struct {
	ActorID        string          `form:"actor_id" json:"actor_id,omitempty"`
	OrganizationID string          `form:"organization_id" json:"organization_id,omitempty"`
	StoreID        string          `form:"store_id" json:"store_id,omitempty"`
	Action         string          `form:"action" json:"action,omitempty"`
	ResourceTable  string          `form:"resource_table" json:"resource_table,omitempty"`
	SourceIP       string          `form:"source_ip" json:"source_ip,omitempty"`
	Severity       models.Severity `form:"severity" json:"severity,omitempty"`
	Category       models.Category `form:"category" json:"category,omitempty"`
	From           time.Time       `form:"from" time_format:"2006-01-02T15:04:05Z07:00" json:"from,omitempty"`
	To             time.Time       `form:"to" time_format:"2006-01-02T15:04:05Z07:00" json:"to,omitempty"`
	Limit          int             `form:"limit" json:"limit,omitempty"`
	Offset         int             `form:"offset" json:"offset,omitempty"`
}

// Page is one page of query results.
type Page struct {
	Events []models.AuditEvent `json:"events"`
	Total  int64               `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// Scope restricts statistics to one tenant.
type Scope struct {
	OrganizationID string `form:"organization_id" json:"organization_id,omitempty"`
	StoreID        string `form:"store_id" json:"store_id,omitempty"`
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f Filter) apply(q *gorm.DB) *gorm.DB {
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.OrganizationID != "" {
		q = q.Where("organization_id = ?", f.OrganizationID)
	}
	if f.StoreID != "" {
		q = q.Where("store_id = ?", f.StoreID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.ResourceTable != "" {
		q = q.Where("resource_table = ?", f.ResourceTable)
	}
	if f.SourceIP != "" {
		q = q.Where("source_ip = ?", f.SourceIP)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("created_at <= ?", f.To.UTC())
	}
	return q
}

func (s Scope) apply(q *gorm.DB) *gorm.DB {
	if s.OrganizationID != "" {
		q = q.Where("organization_id = ?", s.OrganizationID)
	}
	if s.StoreID != "" {
		q = q.Where("store_id = ?", s.StoreID)
	}
	return q
}
