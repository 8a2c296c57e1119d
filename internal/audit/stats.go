package audit

import (
	"time"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

const (
	topActions     = 10
	recentSecurity = 10
)

// Stats summarizes stored audit events.
type Stats struct {
	Total          int64               `json:"total"`
	Today          int64               `json:"today"`
	Last7Days      int64               `json:"last_7_days"`
	BySeverity     map[string]int64    `json:"by_severity"`
	ByCategory     map[string]int64    `json:"by_category"`
	TopActions     []ActionCount       `json:"top_actions"`
	RecentSecurity []models.AuditEvent `json:"recent_security"`
	GeneratedAt    time.Time           `json:"generated_at"`
}

// ActionCount is one row of the top actions list.
type ActionCount struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}
