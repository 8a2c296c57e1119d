package audit

import (
	"context"
	"reflect"
	"sort"
	"strings"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

var sensitiveTables = map[string]bool{
	"users":         true,
	"profiles":      true,
	"identities":    true,
	"organizations": true,
	"tenants":       true,
	"stores":        true,
	"audit_events":  true,
	"audit_logs":    true,
}

// IsSensitiveTable reports whether changes to table are always high severity.
func IsSensitiveTable(table string) bool {
	return sensitiveTables[strings.ToLower(table)]
}

// Actor identifies who triggered an event and from where.
type Actor struct {
	ID             string
	OrganizationID string
	StoreID        string
	SourceIP       string
	UserAgent      string
	SessionID      string
}

func (a Actor) event(action string, sev models.Severity, cat models.Category) *models.AuditEvent {
	return &models.AuditEvent{
		ActorID:        a.ID,
		OrganizationID: a.OrganizationID,
		StoreID:        a.StoreID,
		SourceIP:       a.SourceIP,
		UserAgent:      a.UserAgent,
		SessionID:      a.SessionID,
		Action:         action,
		Severity:       sev,
		Category:       cat,
	}
}

// LogAuth records sign-in and session activity. Failures default to medium,
// lockouts to high.
func (l *Log) LogAuth(ctx context.Context, actor Actor, action string, details models.AuthDetails) error {
	sev := models.SeverityLow
	switch {
	case action == models.ActionAccountLocked:
		sev = models.SeverityHigh
	case action == models.ActionLoginFailure || details.Unusual:
		sev = models.SeverityMedium
	}
	ev := actor.event(action, sev, models.CategoryAuth)
	ev.Metadata.Auth = &details
	return l.Log(ctx, ev)
}

// LogDataChange records a change to a stored resource. The changed fields
// are derived from the old and new values.
func (l *Log) LogDataChange(ctx context.Context, actor Actor, table, id, operation string, oldValues, newValues map[string]interface{}) error {
	sev := models.SeverityLow
	if IsSensitiveTable(table) {
		sev = models.SeverityHigh
	}
	ev := actor.event(operation, sev, models.CategoryData)
	ev.ResourceTable = table
	ev.ResourceID = id
	ev.OldValues = oldValues
	ev.NewValues = newValues
	ev.Metadata.Data = &models.DataDetails{
		Operation:     operation,
		ChangedFields: changedFields(oldValues, newValues),
		Records:       1,
	}
	return l.Log(ctx, ev)
}

// LogSecurity records a security decision.
func (l *Log) LogSecurity(ctx context.Context, actor Actor, action string, sev models.Severity, details models.SecurityDetails) error {
	ev := actor.event(action, sev, models.CategorySecurity)
	ev.Metadata.Security = &details
	return l.Log(ctx, ev)
}

// LogSystem records an internal operational event.
func (l *Log) LogSystem(ctx context.Context, action string, sev models.Severity, details models.SystemDetails) error {
	ev := Actor{ID: "system"}.event(action, sev, models.CategorySystem)
	ev.Metadata.System = &details
	return l.Log(ctx, ev)
}

func changedFields(oldValues, newValues map[string]interface{}) []string {
	keys := map[string]struct{}{}
	for k, v := range newValues {
		if ov, ok := oldValues[k]; !ok || !reflect.DeepEqual(ov, v) {
			keys[k] = struct{}{}
		}
	}
	for k := range oldValues {
		if _, ok := newValues[k]; !ok {
			keys[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
