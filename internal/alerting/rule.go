package alerting

import (
	"errors"
	"fmt"
	"time"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

var (
	ErrRuleNotFound  = errors.New("alert rule not found")
	ErrDuplicateRule = errors.New("alert rule already exists")
	ErrInvalidRule   = errors.New("invalid alert rule")
)

// Rule sources.
const (
	SourceBuiltin = "builtin"
	SourceFile    = "file"
	SourceAPI     = "api"
)

// Predicate decides whether ev triggers a rule. The window holds the other
// recent events so threshold rules can look back. Predicates must not
// mutate either argument.
type Predicate func(ev *models.AuditEvent, w *Window) bool

// Rule is one entry of the alert registry.
type Rule struct {
	ID          string
	Name        string
	Description string
	Predicate   Predicate
	// Severity of raised alerts; empty means the triggering event's severity.
	Severity models.Severity
	Enabled  bool
	Cooldown time.Duration
	Channels []string
	// Lookback is how much history the predicate needs.
	Lookback time.Duration
	Source   string
}

func (r *Rule) validate() error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if r.Predicate == nil {
		return fmt.Errorf("%w: rule %s has no predicate", ErrInvalidRule, r.ID)
	}
	if r.Severity != "" && !r.Severity.Valid() {
		return fmt.Errorf("%w: rule %s has unknown severity %q", ErrInvalidRule, r.ID, r.Severity)
	}
	if r.Cooldown < 0 || r.Lookback < 0 {
		return fmt.Errorf("%w: rule %s has a negative duration", ErrInvalidRule, r.ID)
	}
	return nil
}

func (r *Rule) clone() *Rule {
	c := *r
	c.Channels = append([]string(nil), r.Channels...)
	return &c
}

// RulePatch carries a partial rule update. Nil fields are left unchanged.
type RulePatch struct {
	Name            *string          `json:"name"`
	Description     *string          `json:"description"`
	Severity        *models.Severity `json:"severity"`
	Enabled         *bool            `json:"enabled"`
	CooldownSeconds *int             `json:"cooldown_seconds"`
	Channels        *[]string        `json:"channels"`
}

func (p RulePatch) apply(r *Rule) error {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Severity != nil {
		if *p.Severity != "" && !p.Severity.Valid() {
			return fmt.Errorf("%w: unknown severity %q", ErrInvalidRule, *p.Severity)
		}
		r.Severity = *p.Severity
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.CooldownSeconds != nil {
		if *p.CooldownSeconds < 0 {
			return fmt.Errorf("%w: negative cooldown", ErrInvalidRule)
		}
		r.Cooldown = time.Duration(*p.CooldownSeconds) * time.Second
	}
	if p.Channels != nil {
		r.Channels = append([]string(nil), (*p.Channels)...)
	}
	return nil
}

// RuleView is the JSON representation of a rule.
type RuleView struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Severity        models.Severity `json:"severity,omitempty"`
	Enabled         bool            `json:"enabled"`
	CooldownSeconds int             `json:"cooldown_seconds"`
	LookbackSeconds int             `json:"lookback_seconds,omitempty"`
	Channels        []string        `json:"channels"`
	Source          string          `json:"source"`
	LastFired       *time.Time      `json:"last_fired,omitempty"`
}

func (r *Rule) view(lastFired time.Time) RuleView {
	v := RuleView{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		Severity:        r.Severity,
		Enabled:         r.Enabled,
		CooldownSeconds: int(r.Cooldown / time.Second),
		LookbackSeconds: int(r.Lookback / time.Second),
		Channels:        append([]string{}, r.Channels...),
		Source:          r.Source,
	}
	if !lastFired.IsZero() {
		t := lastFired
		v.LastFired = &t
	}
	return v
}
