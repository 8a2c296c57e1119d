package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMetadataMismatch is returned when the typed payload does not belong to the event category.
var ErrMetadataMismatch = errors.New("metadata payload does not match category")

// EventMetadata is the JSON envelope persisted with every audit event. Exactly one
// typed payload is expected and it must match Category.
type EventMetadata struct {
	Severity Severity `json:"severity"`
	Category Category `json:"category"`

	Auth     *AuthDetails     `json:"auth,omitempty"`
	Data     *DataDetails     `json:"data,omitempty"`
	Security *SecurityDetails `json:"security,omitempty"`
	System   *SystemDetails   `json:"system,omitempty"`
	Business *BusinessDetails `json:"business,omitempty"`

	Extra map[string]interface{} `json:"extra,omitempty"`
}

// AuthDetails describes sign-in and session activity.
type AuthDetails struct {
	Method   string `json:"method,omitempty"`
	Success  bool   `json:"success"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Unusual  bool   `json:"unusual,omitempty"`
	Location string `json:"location,omitempty"`
}

// DataDetails describes a change to a stored resource.
type DataDetails struct {
	Operation     string   `json:"operation,omitempty"`
	ChangedFields []string `json:"changed_fields,omitempty"`
	Records       int      `json:"records,omitempty"`
}

// SecurityDetails describes a gate or detector decision.
type SecurityDetails struct {
	Reason        string     `json:"reason,omitempty"`
	Detector      string     `json:"detector,omitempty"`
	Key           string     `json:"key,omitempty"`
	Store         string     `json:"store,omitempty"`
	Path          string     `json:"path,omitempty"`
	Method        string     `json:"method,omitempty"`
	Count         int        `json:"count,omitempty"`
	MaxRequests   int        `json:"max_requests,omitempty"`
	WindowSeconds int        `json:"window_seconds,omitempty"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty"`
	RequiredRole  string     `json:"required_role,omitempty"`
	ActualRole    string     `json:"actual_role,omitempty"`
	RuleID        string     `json:"rule_id,omitempty"`
}

// SystemDetails describes internal operational events.
type SystemDetails struct {
	Component string `json:"component,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BusinessDetails describes domain operations recorded for traceability.
type BusinessDetails struct {
	Operation string  `json:"operation,omitempty"`
	Reference string  `json:"reference,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
}

// Validate checks that at most one payload is set and that it matches Category.
func (m EventMetadata) Validate() error {
	set := 0
	var payloadCategory Category
	if m.Auth != nil {
		set++
		payloadCategory = CategoryAuth
	}
	if m.Data != nil {
		set++
		payloadCategory = CategoryData
	}
	if m.Security != nil {
		set++
		payloadCategory = CategorySecurity
	}
	if m.System != nil {
		set++
		payloadCategory = CategorySystem
	}
	if m.Business != nil {
		set++
		payloadCategory = CategoryBusiness
	}
	if set == 0 {
		return nil
	}
	if set > 1 {
		return fmt.Errorf("%w: %d payloads set", ErrMetadataMismatch, set)
	}
	if payloadCategory != m.Category {
		return fmt.Errorf("%w: %s payload on %s event", ErrMetadataMismatch, payloadCategory, m.Category)
	}
	return nil
}

// Value implements driver.Valuer.
func (m EventMetadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal event metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *EventMetadata) Scan(src interface{}) error {
	if src == nil {
		*m = EventMetadata{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported event metadata source %T", src)
	}
	if len(raw) == 0 {
		*m = EventMetadata{}
		return nil
	}
	var out EventMetadata
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshal event metadata: %w", err)
	}
	*m = out
	return nil
}
