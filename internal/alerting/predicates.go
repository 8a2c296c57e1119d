package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

// Matcher selects the events a rule looks at.
type Matcher struct {
	Actions     []string        `yaml:"actions" json:"actions,omitempty"`
	Category    models.Category `yaml:"category" json:"category,omitempty"`
	MinSeverity models.Severity `yaml:"min_severity" json:"min_severity,omitempty"`
}

// Matches reports whether ev passes every set criterion.
func (m Matcher) Matches(ev *models.AuditEvent) bool {
	if len(m.Actions) > 0 {
		found := false
		for _, a := range m.Actions {
			if ev.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if m.Category != "" && ev.Category != m.Category {
		return false
	}
	if m.MinSeverity != "" && !ev.Severity.AtLeast(m.MinSeverity) {
		return false
	}
	return true
}

// Threshold fires once Count matching events (or Count distinct values of
// Distinct) share the triggering event's GroupBy value within Lookback.
type Threshold struct {
	Count    int           `yaml:"count" json:"count"`
	Lookback time.Duration `yaml:"lookback" json:"lookback"`
	GroupBy  string        `yaml:"group_by" json:"group_by,omitempty"`
	Distinct string        `yaml:"distinct" json:"distinct,omitempty"`
}

var knownFields = map[string]bool{
	"source_ip": true, "actor_id": true, "organization_id": true, "store_id": true,
	"action": true, "resource_table": true, "session_id": true, "user_agent": true,
	"security.key": true, "security.path": true, "security.detector": true,
}

func (t Threshold) validate() error {
	if t.Count < 1 {
		return fmt.Errorf("threshold count must be positive")
	}
	if t.Lookback <= 0 {
		return fmt.Errorf("threshold lookback must be positive")
	}
	for _, f := range []string{t.GroupBy, t.Distinct} {
		if f != "" && !knownFields[f] {
			return fmt.Errorf("unknown event field %q", f)
		}
	}
	return nil
}

// FieldValue extracts a named field from an event.
func FieldValue(ev *models.AuditEvent, field string) string {
	switch field {
	case "source_ip":
		return ev.SourceIP
	case "actor_id":
		return ev.ActorID
	case "organization_id":
		return ev.OrganizationID
	case "store_id":
		return ev.StoreID
	case "action":
		return ev.Action
	case "resource_table":
		return ev.ResourceTable
	case "session_id":
		return ev.SessionID
	case "user_agent":
		return ev.UserAgent
	}
	if strings.HasPrefix(field, "security.") && ev.Metadata.Security != nil {
		s := ev.Metadata.Security
		switch strings.TrimPrefix(field, "security.") {
		case "key":
			return s.Key
		case "path":
			return s.Path
		case "detector":
			return s.Detector
		}
	}
	return ""
}

// MatchAny fires on any event accepted by m.
func MatchAny(m Matcher) Predicate {
	return func(ev *models.AuditEvent, _ *Window) bool {
		return m.Matches(ev)
	}
}

// MatchThreshold fires when ev matches m and the window holds enough
// related events.
func MatchThreshold(m Matcher, t Threshold) Predicate {
	return func(ev *models.AuditEvent, w *Window) bool {
		if !m.Matches(ev) {
			return false
		}
		group := ""
		if t.GroupBy != "" {
			group = FieldValue(ev, t.GroupBy)
			if group == "" {
				return false
			}
		}
		related := w.Before(ev, t.Lookback, func(e *models.AuditEvent) bool {
			if !m.Matches(e) {
				return false
			}
			return t.GroupBy == "" || FieldValue(e, t.GroupBy) == group
		})
		if t.Distinct == "" {
			return len(related) >= t.Count
		}
		values := make(map[string]struct{}, len(related))
		for _, e := range related {
			if v := FieldValue(e, t.Distinct); v != "" {
				values[v] = struct{}{}
			}
		}
		return len(values) >= t.Count
	}
}
