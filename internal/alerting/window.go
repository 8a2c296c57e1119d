package alerting

import (
	"sort"
	"time"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

// Window is the set of recent events visible to predicates, oldest first.
type Window struct {
	events []models.AuditEvent
}

// NewWindow sorts events by creation time.
func NewWindow(events []models.AuditEvent) *Window {
	sorted := make([]models.AuditEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	return &Window{events: sorted}
}

// Len returns the number of events in the window.
func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	return len(w.events)
}

// Before returns the events created in [ev.CreatedAt-lookback, ev.CreatedAt]
// that satisfy match. ev itself is included when it matches.
func (w *Window) Before(ev *models.AuditEvent, lookback time.Duration, match func(*models.AuditEvent) bool) []*models.AuditEvent {
	var out []*models.AuditEvent
	seenSelf := false
	if w != nil {
		from := ev.CreatedAt.Add(-lookback)
		for i := range w.events {
			e := &w.events[i]
			if e.CreatedAt.Before(from) {
				continue
			}
			if e.CreatedAt.After(ev.CreatedAt) {
				break
			}
			if e.ID == ev.ID {
				seenSelf = true
			}
			if match == nil || match(e) {
				out = append(out, e)
			}
		}
	}
	if !seenSelf && (match == nil || match(ev)) {
		out = append(out, ev)
	}
	return out
}
