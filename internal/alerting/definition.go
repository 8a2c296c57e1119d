package alerting

import (
	"fmt"
	"time"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

// RuleDefinition is the declarative form of a rule, as read from YAML.
type RuleDefinition struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Severity    models.Severity `yaml:"severity"`
	Enabled     *bool           `yaml:"enabled"`
	Cooldown    time.Duration   `yaml:"cooldown"`
	Channels    []string        `yaml:"channels"`
	Match       Matcher         `yaml:"match"`
	Threshold   *Threshold      `yaml:"threshold"`
}

// RuleFile is the top-level document of a rules file.
type RuleFile struct {
	Rules []RuleDefinition `yaml:"rules"`
}

// Compile turns the definition into a Rule.
func (d RuleDefinition) Compile(source string) (*Rule, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if len(d.Match.Actions) == 0 && d.Match.Category == "" && d.Match.MinSeverity == "" {
		return nil, fmt.Errorf("%w: rule %s matches every event", ErrInvalidRule, d.ID)
	}
	if d.Match.MinSeverity != "" && !d.Match.MinSeverity.Valid() {
		return nil, fmt.Errorf("%w: rule %s has unknown min_severity %q", ErrInvalidRule, d.ID, d.Match.MinSeverity)
	}

	r := &Rule{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Severity:    d.Severity,
		Enabled:     d.Enabled == nil || *d.Enabled,
		Cooldown:    d.Cooldown,
		Channels:    append([]string(nil), d.Channels...),
		Source:      source,
	}
	if r.Name == "" {
		r.Name = d.ID
	}
	if d.Threshold != nil {
		if err := d.Threshold.validate(); err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, d.ID, err)
		}
		r.Predicate = MatchThreshold(d.Match, *d.Threshold)
		r.Lookback = d.Threshold.Lookback
	} else {
		r.Predicate = MatchAny(d.Match)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// DefaultDefinitions is the built-in rule set, in evaluation order.
func DefaultDefinitions() []RuleDefinition {
	return []RuleDefinition{
		{
			ID:          "brute_force_login",
			Name:        "Brute force login",
			Description: "Repeated failed logins from one address",
			Severity:    models.SeverityHigh,
			Cooldown:    15 * time.Minute,
			Match:       Matcher{Actions: []string{models.ActionLoginFailure}},
			Threshold:   &Threshold{Count: 5, Lookback: 15 * time.Minute, GroupBy: "source_ip"},
		},
		{
			ID:          "account_lockout",
			Name:        "Account locked",
			Description: "An account was locked after failed attempts",
			Severity:    models.SeverityHigh,
			Cooldown:    10 * time.Minute,
			Match:       Matcher{Actions: []string{models.ActionAccountLocked}},
		},
		{
			ID:          "suspicious_pattern",
			Name:        "Suspicious request pattern",
			Description: "A request matched an attack signature",
			Severity:    models.SeverityHigh,
			Cooldown:    5 * time.Minute,
			Match:       Matcher{Actions: []string{models.ActionSuspiciousActivity}},
		},
		{
			ID:          "unauthorized_access",
			Name:        "Unauthorized access",
			Description: "A caller was refused by the access gate",
			Severity:    models.SeverityHigh,
			Cooldown:    5 * time.Minute,
			Match:       Matcher{Actions: []string{models.ActionUnauthorizedAccess}},
		},
		{
			ID:          "data_breach_attempt",
			Name:        "Data breach attempt",
			Description: "Bulk or cross-tenant data access was attempted",
			Severity:    models.SeverityCritical,
			Cooldown:    time.Minute,
			Match:       Matcher{Actions: []string{models.ActionDataBreachAttempt}},
		},
		{
			ID:          "rate_limit_violations",
			Name:        "Rate limit violations",
			Description: "Several distinct keys were throttled in a short period",
			Severity:    models.SeverityMedium,
			Cooldown:    10 * time.Minute,
			Match:       Matcher{Actions: []string{models.ActionRateLimitExceeded, models.ActionBruteForceAttempt}},
			Threshold:   &Threshold{Count: 3, Lookback: 5 * time.Minute, Distinct: "security.key"},
		},
		{
			ID:          "unusual_login_pattern",
			Name:        "Unusual login pattern",
			Description: "One account signed in from several addresses",
			Severity:    models.SeverityLow,
			Cooldown:    30 * time.Minute,
			Match:       Matcher{Actions: []string{models.ActionLoginSuccess}},
			Threshold:   &Threshold{Count: 3, Lookback: time.Hour, GroupBy: "actor_id", Distinct: "source_ip"},
		},
	}
}

// DefaultRules compiles DefaultDefinitions.
func DefaultRules() []*Rule {
	defs := DefaultDefinitions()
	rules := make([]*Rule, 0, len(defs))
	for _, d := range defs {
		r, err := d.Compile(SourceBuiltin)
		if err != nil {
			panic(err)
		}
		rules = append(rules, r)
	}
	return rules
}
