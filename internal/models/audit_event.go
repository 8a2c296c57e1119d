package models

import (
	"strings"
	"time"
)

// Severity is the ordinal weight of an audit event or alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity; unknown values rank 0.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity normalizes user input; ok is false for unknown values.
func ParseSeverity(v string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	return s, s.Valid()
}

// Category groups audit events by the subsystem that produced them.
type Category string

const (
	CategoryAuth     Category = "auth"
	CategoryData     Category = "data"
	CategorySecurity Category = "security"
	CategorySystem   Category = "system"
	CategoryBusiness Category = "business"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryAuth, CategoryData, CategorySecurity, CategorySystem, CategoryBusiness:
		return true
	}
	return false
}

// ParseCategory normalizes user input; ok is false for unknown values.
func ParseCategory(v string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(v)))
	return c, c.Valid()
}

// Well-known audit actions emitted by the pipeline itself.
const (
	ActionLoginSuccess            = "login_success"
	ActionLoginFailure            = "login_failure"
	ActionLogout                  = "logout"
	ActionAccountLocked           = "account_locked"
	ActionRateLimitExceeded       = "rate_limit_exceeded"
	ActionBruteForceAttempt       = "brute_force_attempt"
	ActionSuspiciousActivity      = "suspicious_activity"
	ActionUnauthorizedAccess      = "unauthorized_access"
	ActionDataBreachAttempt       = "data_breach_attempt"
	ActionSensitiveEndpointAccess = "sensitive_endpoint_access"
	ActionAlertRuleError          = "alert_rule_error"
	ActionAuditCleanup            = "audit_cleanup"
)

// AuditEvent is an immutable security or operational record.
type AuditEvent struct {
	ID             string        `json:"id" gorm:"primaryKey"`
	ActorID        string        `json:"actor_id,omitempty" gorm:"index"`
	OrganizationID string        `json:"organization_id,omitempty" gorm:"index"`
	StoreID        string        `json:"store_id,omitempty" gorm:"index"`
	Action         string        `json:"action" gorm:"index;not null"`
	ResourceTable  string        `json:"resource_table,omitempty" gorm:"index"`
	ResourceID     string        `json:"resource_id,omitempty"`
	OldValues      JSONMap       `json:"old_values,omitempty" gorm:"type:text"`
	NewValues      JSONMap       `json:"new_values,omitempty" gorm:"type:text"`
	SourceIP       string        `json:"source_ip,omitempty" gorm:"index"`
	UserAgent      string        `json:"user_agent,omitempty"`
	SessionID      string        `json:"session_id,omitempty"`
	Severity       Severity      `json:"severity" gorm:"index;not null"`
	Category       Category      `json:"category" gorm:"index;not null"`
	Metadata       EventMetadata `json:"metadata" gorm:"type:text"`
	CreatedAt      time.Time     `json:"created_at" gorm:"index"`
}

// TableName pins the table used by the durable audit store.
func (AuditEvent) TableName() string {
	return "audit_events"
}
