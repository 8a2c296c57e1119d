package models

import (
	"time"
)

// Access list types.
const (
	AccessListAllow = "allow"
	AccessListDeny  = "deny"
)

// AccessList defines IP-based allow or deny rules evaluated by the request gate
// before rate limiting.
type AccessList struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UUID        string    `json:"uuid" gorm:"uniqueIndex"`
	Name        string    `json:"name" gorm:"index"`
	Description string    `json:"description"`
	Type        string    `json:"type"`                      // "allow", "deny"
	IPRules     string    `json:"ip_rules" gorm:"type:text"` // JSON array of IP/CIDR rules
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AccessListRule represents a single IP or CIDR rule
type AccessListRule struct {
	CIDR        string `json:"cidr"`        // IP address or CIDR notation
	Description string `json:"description"` // Optional description
}
