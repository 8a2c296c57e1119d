package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Wikid82/sentinel/backend/internal/logger"
	"github.com/Wikid82/sentinel/backend/internal/metrics"
	"github.com/Wikid82/sentinel/backend/internal/models"
	"github.com/Wikid82/sentinel/backend/internal/scheduler"
)

// EventSource returns recently recorded audit events, oldest first.
// *audit.Log implements it.
type EventSource interface {
	Recent(ctx context.Context, since time.Time, category models.Category) ([]models.AuditEvent, error)
}

// SystemLogger records the engine's own failures. *audit.Log implements it.
type SystemLogger interface {
	LogSystem(ctx context.Context, action string, sev models.Severity, details models.SystemDetails) error
}

// DefaultAlertRetention applies when Purge is given a non-positive age.
const DefaultAlertRetention = 30 * 24 * time.Hour

// Options tunes the evaluation loop and dispatch.
type Options struct {
	EvaluationInterval time.Duration
	// EvaluationWindow is how far back each cycle looks for new events.
	EvaluationWindow time.Duration
	DispatchTimeout  time.Duration
	// ChannelRatePerMinute caps outbound sends per channel. Zero disables it.
	ChannelRatePerMinute int
	// Categories pulled by EvaluateRecent.
	Categories []models.Category
}

func (o Options) withDefaults() Options {
	if o.EvaluationInterval <= 0 {
		o.EvaluationInterval = 30 * time.Second
	}
	if o.EvaluationWindow <= 0 {
		o.EvaluationWindow = 5 * time.Minute
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = 10 * time.Second
	}
	if len(o.Categories) == 0 {
		o.Categories = []models.Category{models.CategorySecurity, models.CategoryAuth}
	}
	return o
}

// Engine evaluates audit events against the rule registry and raises alerts.
type Engine struct {
	store  AlertStore
	source EventSource
	syslog SystemLogger
	opts   Options
	now    func() time.Time
	task   *scheduler.Task

	mu        sync.Mutex
	rules     []*Rule
	lastFired map[string]time.Time
	seen      map[string]time.Time

	chMu     sync.RWMutex
	channels map[string]Channel
	limiters map[string]*rate.Limiter

	dispatches sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSystemLogger records predicate failures as system audit events.
func WithSystemLogger(l SystemLogger) Option {
	return func(e *Engine) { e.syslog = l }
}

// WithRules replaces the default rule set.
func WithRules(rules ...*Rule) Option {
	return func(e *Engine) {
		e.rules = nil
		for _, r := range rules {
			e.rules = append(e.rules, r.clone())
		}
	}
}

// WithChannels registers additional delivery channels.
func WithChannels(channels ...Channel) Option {
	return func(e *Engine) {
		for _, ch := range channels {
			e.channels[ch.Name()] = ch
		}
	}
}

// NewEngine creates an engine with the default rules and the console channel.
// Call Start to enable the evaluation loop.
func NewEngine(store AlertStore, source EventSource, opts Options, options ...Option) *Engine {
	e := &Engine{
		store:     store,
		source:    source,
		opts:      opts.withDefaults(),
		now:       time.Now,
		rules:     DefaultRules(),
		lastFired: make(map[string]time.Time),
		seen:      make(map[string]time.Time),
		channels:  map[string]Channel{ChannelConsole: ConsoleChannel{}},
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, o := range options {
		o(e)
	}
	for name := range e.channels {
		e.limiters[name] = e.newLimiter()
	}
	e.task = scheduler.NewTask("alert-evaluation", e.opts.EvaluationInterval, e.cycle)
	return e
}

func (e *Engine) newLimiter() *rate.Limiter {
	if e.opts.ChannelRatePerMinute <= 0 {
		return nil
	}
	n := e.opts.ChannelRatePerMinute
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

// Start begins the periodic evaluation loop.
func (e *Engine) Start(ctx context.Context) {
	e.task.Start(ctx)
}

// Close stops the loop and waits for pending dispatches.
func (e *Engine) Close(ctx context.Context) error {
	e.task.Stop()
	done := make(chan struct{})
	go func() {
		e.dispatches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for alert dispatch: %w", ctx.Err())
	}
}

func (e *Engine) cycle(ctx context.Context) {
	if _, err := e.EvaluateRecent(ctx); err != nil {
		logger.Source("alerting").WithError(err).Warn("alert evaluation cycle failed")
	}
}

// RegisterChannel adds or replaces a delivery channel.
func (e *Engine) RegisterChannel(ch Channel) {
	e.chMu.Lock()
	defer e.chMu.Unlock()
	e.channels[ch.Name()] = ch
	e.limiters[ch.Name()] = e.newLimiter()
}

// ChannelNames lists the registered channels.
func (e *Engine) ChannelNames() []string {
	e.chMu.RLock()
	defer e.chMu.RUnlock()
	names := make([]string, 0, len(e.channels))
	for name := range e.channels {
		names = append(names, name)
	}
	return names
}

func (e *Engine) lookbackLocked() time.Duration {
	span := e.opts.EvaluationWindow
	for _, r := range e.rules {
		if r.Enabled && r.Lookback > span {
			span = r.Lookback
		}
	}
	return span
}

func (e *Engine) recent(ctx context.Context, since time.Time) ([]models.AuditEvent, error) {
	if e.source == nil {
		return nil, nil
	}
	var out []models.AuditEvent
	for _, cat := range e.opts.Categories {
		evs, err := e.source.Recent(ctx, since, cat)
		if err != nil {
			return nil, fmt.Errorf("load recent %s events: %w", cat, err)
		}
		out = append(out, evs...)
	}
	return out, nil
}

// EvaluateRecent evaluates every event recorded within the evaluation window
// that has not been evaluated yet and returns the number of alerts raised.
func (e *Engine) EvaluateRecent(ctx context.Context) (int, error) {
	now := e.now()
	e.mu.Lock()
	span := e.lookbackLocked()
	e.mu.Unlock()

	events, err := e.recent(ctx, now.Add(-span))
	if err != nil {
		return 0, err
	}
	window := NewWindow(events)
	evalFrom := now.Add(-e.opts.EvaluationWindow)

	e.mu.Lock()
	for id, at := range e.seen {
		if at.Before(evalFrom) {
			delete(e.seen, id)
		}
	}
	e.mu.Unlock()

	raised := 0
	for i := range window.events {
		ev := &window.events[i]
		if ev.CreatedAt.Before(evalFrom) {
			continue
		}
		alert, err := e.evaluate(ctx, ev, window)
		if err != nil {
			logger.Source("alerting").WithError(err).WithField("event_id", ev.ID).Error("failed to raise alert")
			continue
		}
		if alert != nil {
			raised++
		}
	}
	return raised, nil
}

// Evaluate runs ev through the rules against the events recorded before it
// and returns the raised alert, if any.
func (e *Engine) Evaluate(ctx context.Context, ev *models.AuditEvent) (*models.SecurityAlert, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	e.mu.Lock()
	span := e.lookbackLocked()
	e.mu.Unlock()

	if ev.CreatedAt.IsZero() {
		c := *ev
		c.CreatedAt = e.now()
		ev = &c
	}
	events, err := e.recent(ctx, ev.CreatedAt.Add(-span))
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, ev, NewWindow(events))
}

type ruleFailure struct {
	rule string
	err  error
}

func (e *Engine) evaluate(ctx context.Context, ev *models.AuditEvent, w *Window) (*models.SecurityAlert, error) {
	var (
		matched   *Rule
		failures  []ruleFailure
		prevFired time.Time
		hadFired  bool
	)

	e.mu.Lock()
	if ev.ID != "" {
		if _, done := e.seen[ev.ID]; done {
			e.mu.Unlock()
			return nil, nil
		}
		e.seen[ev.ID] = ev.CreatedAt
	}
	now := e.now()
	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		if last, ok := e.lastFired[r.ID]; ok && now.Before(last.Add(r.Cooldown)) {
			continue
		}
		ok, err := safeEval(r, ev, w)
		if err != nil {
			failures = append(failures, ruleFailure{rule: r.ID, err: err})
			continue
		}
		if ok {
			prevFired, hadFired = e.lastFired[r.ID]
			e.lastFired[r.ID] = now
			matched = r.clone()
			break
		}
	}
	e.mu.Unlock()

	for _, f := range failures {
		e.reportRuleError(ctx, f)
	}
	if matched == nil {
		return nil, nil
	}

	alert := newAlert(matched, ev, now)
	if err := e.store.Save(ctx, alert); err != nil {
		e.rollback(matched.ID, ev.ID, now, prevFired, hadFired)
		return nil, fmt.Errorf("save alert for rule %s: %w", matched.ID, err)
	}
	metrics.IncAlertFired(matched.ID)
	e.dispatch(ctx, matched, alert)
	return alert, nil
}

// rollback releases the cooldown and the seen mark taken for an alert that
// could not be stored, so the event is evaluated again on the next cycle.
func (e *Engine) rollback(ruleID, eventID string, firedAt, prev time.Time, hadPrev bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if eventID != "" {
		delete(e.seen, eventID)
	}
	if cur, ok := e.lastFired[ruleID]; !ok || !cur.Equal(firedAt) {
		return
	}
	if hadPrev {
		e.lastFired[ruleID] = prev
	} else {
		delete(e.lastFired, ruleID)
	}
}

func safeEval(r *Rule, ev *models.AuditEvent, w *Window) (matched bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("predicate panicked: %v", rec)
		}
	}()
	return r.Predicate(ev, w), nil
}

func (e *Engine) reportRuleError(ctx context.Context, f ruleFailure) {
	metrics.IncRuleError(f.rule)
	logger.Source("alerting").WithError(f.err).WithField("rule", f.rule).Warn("alert rule skipped")
	if e.syslog == nil {
		return
	}
	if err := e.syslog.LogSystem(ctx, models.ActionAlertRuleError, models.SeverityLow, models.SystemDetails{
		Component: "alerting",
		Message:   fmt.Sprintf("rule %s: %v", f.rule, f.err),
	}); err != nil {
		logger.Source("alerting").WithError(err).Debug("failed to record rule error")
	}
}

func newAlert(r *Rule, ev *models.AuditEvent, now time.Time) *models.SecurityAlert {
	sev := r.Severity
	if sev == "" {
		sev = ev.Severity
	}
	msg := fmt.Sprintf("%s: %s", r.Name, ev.Action)
	if ev.SourceIP != "" {
		msg += " from " + ev.SourceIP
	}
	details := models.JSONMap{
		"action":         ev.Action,
		"event_category": string(ev.Category),
		"event_severity": string(ev.Severity),
	}
	if ev.SourceIP != "" {
		details["source_ip"] = ev.SourceIP
	}
	if ev.ActorID != "" {
		details["actor_id"] = ev.ActorID
	}
	if ev.OrganizationID != "" {
		details["organization_id"] = ev.OrganizationID
	}
	if r.Description != "" {
		details["rule_description"] = r.Description
	}
	return &models.SecurityAlert{
		ID:        uuid.NewString(),
		RuleID:    r.ID,
		RuleName:  r.Name,
		Severity:  sev,
		Message:   msg,
		Details:   details,
		EventID:   ev.ID,
		CreatedAt: now.UTC(),
	}
}

// dispatch sends alert to the console and every channel named on the rule,
// or to every registered channel when the rule names none. Each channel gets
// its own goroutine and timeout.
func (e *Engine) dispatch(ctx context.Context, r *Rule, alert *models.SecurityAlert) {
	targets := r.Channels
	if len(targets) == 0 {
		targets = e.ChannelNames()
		sort.Strings(targets)
	}
	names := []string{ChannelConsole}
	for _, n := range targets {
		if n != ChannelConsole {
			names = append(names, n)
		}
	}

	base := context.WithoutCancel(ctx)
	for _, name := range names {
		e.chMu.RLock()
		ch, ok := e.channels[name]
		lim := e.limiters[name]
		e.chMu.RUnlock()

		if !ok {
			metrics.IncAlertDelivery(name, "unknown")
			logger.Source("alerting").WithFields(logrus.Fields{"channel": name, "rule": r.ID}).Warn("alert channel not configured")
			continue
		}

		e.dispatches.Add(1)
		go func(ch Channel, lim *rate.Limiter) {
			defer e.dispatches.Done()
			sendCtx, cancel := context.WithTimeout(base, e.opts.DispatchTimeout)
			defer cancel()

			entry := logger.Source("alerting").WithFields(logrus.Fields{"channel": ch.Name(), "alert_id": alert.ID})
			if lim != nil {
				if err := lim.Wait(sendCtx); err != nil {
					metrics.IncAlertDelivery(ch.Name(), "throttled")
					entry.WithError(err).Warn("alert delivery throttled")
					return
				}
			}
			if err := ch.Send(sendCtx, alert); err != nil {
				metrics.IncAlertDelivery(ch.Name(), "failed")
				entry.WithError(err).Error("alert delivery failed")
				return
			}
			metrics.IncAlertDelivery(ch.Name(), "sent")
		}(ch, lim)
	}
}

// Wait blocks until every dispatch started so far has finished.
func (e *Engine) Wait() {
	e.dispatches.Wait()
}

// GetAlerts lists alerts newest first.
func (e *Engine) GetAlerts(ctx context.Context, f AlertFilter) ([]models.SecurityAlert, int64, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return e.store.List(ctx, f)
}

// GetAlert loads one alert.
func (e *Engine) GetAlert(ctx context.Context, id string) (*models.SecurityAlert, error) {
	return e.store.Get(ctx, id)
}

// Acknowledge marks an alert as seen by an operator. Acknowledging twice
// keeps the first acknowledgement.
func (e *Engine) Acknowledge(ctx context.Context, id, by string) (*models.SecurityAlert, error) {
	a, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Acknowledged {
		return a, nil
	}
	now := e.now().UTC()
	a.Acknowledged = true
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = by
	if err := e.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Resolve closes an alert.
func (e *Engine) Resolve(ctx context.Context, id, by string) (*models.SecurityAlert, error) {
	a, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Resolved {
		return nil, ErrAlertAlreadyResolved
	}
	now := e.now().UTC()
	a.Resolved = true
	a.ResolvedAt = &now
	a.ResolvedBy = by
	if err := e.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Stats summarizes stored alerts.
func (e *Engine) Stats(ctx context.Context) (*AlertStats, error) {
	return e.store.Stats(ctx, e.now())
}

// Purge deletes alerts older than olderThan regardless of their state.
func (e *Engine) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = DefaultAlertRetention
	}
	n, err := e.store.DeleteBefore(ctx, e.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	logger.Source("alerting").WithFields(logrus.Fields{
		"deleted":    n,
		"older_than": olderThan.String(),
	}).Info("alert retention cleanup complete")
	return n, nil
}

// AddRule appends r to the registry.
func (e *Engine) AddRule(r *Rule) error {
	if err := r.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.indexLocked(r.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
	}
	c := r.clone()
	if c.Source == "" {
		c.Source = SourceAPI
	}
	e.rules = append(e.rules, c)
	return nil
}

// RemoveRule deletes a rule and its cooldown state.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexLocked(id)
	if i < 0 {
		return ErrRuleNotFound
	}
	e.rules = append(e.rules[:i], e.rules[i+1:]...)
	delete(e.lastFired, id)
	return nil
}

// UpdateRule applies patch to a rule. The rule keeps its position.
func (e *Engine) UpdateRule(id string, patch RulePatch) (RuleView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexLocked(id)
	if i < 0 {
		return RuleView{}, ErrRuleNotFound
	}
	updated := e.rules[i].clone()
	if err := patch.apply(updated); err != nil {
		return RuleView{}, err
	}
	e.rules[i] = updated
	return updated.view(e.lastFired[id]), nil
}

// SetEnabled enables or disables a rule.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	_, err := e.UpdateRule(id, RulePatch{Enabled: &enabled})
	return err
}

// Rule returns one rule.
func (e *Engine) Rule(id string) (RuleView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexLocked(id)
	if i < 0 {
		return RuleView{}, ErrRuleNotFound
	}
	return e.rules[i].view(e.lastFired[id]), nil
}

// Rules lists the registry in evaluation order.
func (e *Engine) Rules() []RuleView {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RuleView, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.view(e.lastFired[r.ID]))
	}
	return out
}

// ApplyDefinitions installs rules read from a rules file. Existing rules
// with the same id are replaced in place; file rules missing from defs are
// removed. Nothing changes when any definition is invalid.
func (e *Engine) ApplyDefinitions(defs []RuleDefinition) error {
	compiled := make([]*Rule, 0, len(defs))
	ids := make(map[string]bool, len(defs))
	for _, d := range defs {
		r, err := d.Compile(SourceFile)
		if err != nil {
			return err
		}
		if ids[r.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
		}
		ids[r.ID] = true
		compiled = append(compiled, r)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.rules[:0]
	for _, r := range e.rules {
		if r.Source == SourceFile && !ids[r.ID] {
			delete(e.lastFired, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	e.rules = kept
	for _, r := range compiled {
		if i := e.indexLocked(r.ID); i >= 0 {
			e.rules[i] = r
			continue
		}
		e.rules = append(e.rules, r)
	}
	logger.Source("alerting").WithField("rules", len(compiled)).Info("alert rules applied from file")
	return nil
}

func (e *Engine) indexLocked(id string) int {
	for i, r := range e.rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}
