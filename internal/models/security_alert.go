package models

import (
	"time"
)

// SecurityAlert is raised by the alert engine when a rule matches an audit event.
// Alerts only change state through explicit operator action.
type SecurityAlert struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	RuleID         string     `json:"rule_id" gorm:"index"`
	RuleName       string     `json:"rule_name"`
	Severity       Severity   `json:"severity" gorm:"index"`
	Message        string     `json:"message" gorm:"type:text"`
	Details        JSONMap    `json:"details,omitempty" gorm:"type:text"`
	EventID        string     `json:"event_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at" gorm:"index"`
	Resolved       bool       `json:"resolved" gorm:"index"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	Acknowledged   bool       `json:"acknowledged" gorm:"index"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
}

// TableName pins the alerts table name.
func (SecurityAlert) TableName() string {
	return "security_alerts"
}
