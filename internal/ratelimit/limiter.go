package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Wikid82/sentinel/backend/internal/logger"
	"github.com/Wikid82/sentinel/backend/internal/metrics"
	"github.com/Wikid82/sentinel/backend/internal/models"
	"github.com/Wikid82/sentinel/backend/internal/util"
)

// Outcome classifies an admission decision.
type Outcome string

const (
	OutcomeAllowed     Outcome = "allowed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeAllowListed Outcome = "allow_listed"
	OutcomeDenied      Outcome = "denied"
	OutcomeSuspicious  Outcome = "suspicious"
	OutcomeLimited     Outcome = "limited"
	OutcomeBlocked     Outcome = "blocked"
	// OutcomeDegraded means the entry store failed and the request was admitted.
	OutcomeDegraded Outcome = "degraded"
)

// Decision is the result of one admission check.
type Decision struct {
	Allowed    bool
	Outcome    Outcome
	Store      string
	Key        string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Pattern names the suspicious pattern that matched.
	Pattern string
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d *Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Headers returns the rate-limit response headers for the decision.
func (d *Decision) Headers() map[string]string {
	if d.Limit == 0 {
		return nil
	}
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(d.Remaining),
	}
	if !d.ResetAt.IsZero() {
		h["X-RateLimit-Reset"] = strconv.FormatInt(d.ResetAt.Unix(), 10)
	}
	if !d.Allowed && d.RetryAfter > 0 {
		h["Retry-After"] = strconv.Itoa(d.RetryAfterSeconds())
	}
	return h
}

// Limiter applies named fixed-window stores to requests.
type Limiter struct {
	store    EntryStore
	lists    IPList
	events   EventLogger
	patterns *PatternSet
	now      func() time.Time
	backend  string

	mu     sync.RWMutex
	stores map[string]Config
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithIPList consults lists before any counting.
func WithIPList(lists IPList) Option {
	return func(l *Limiter) { l.lists = lists }
}

// WithEventLogger sends limiter events to ev.
func WithEventLogger(ev EventLogger) Option {
	return func(l *Limiter) { l.events = ev }
}

// WithPatterns replaces the default suspicious patterns.
func WithPatterns(p *PatternSet) Option {
	return func(l *Limiter) { l.patterns = p }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithStores replaces the preset store configurations.
func WithStores(stores map[string]Config) Option {
	return func(l *Limiter) {
		l.stores = make(map[string]Config, len(stores))
		for k, v := range stores {
			l.stores[k] = v
		}
	}
}

// WithBackendName labels metrics with the entry store backend.
func WithBackendName(name string) Option {
	return func(l *Limiter) { l.backend = name }
}

// New creates a Limiter over store.
func New(store EntryStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		patterns: MustCompilePatterns(DefaultPatterns),
		now:      time.Now,
		stores:   DefaultStores(),
		backend:  "memory",
	}
	for _, o := range opts {
		o(l)
	}
	if _, ok := l.stores[StoreGlobal]; !ok {
		l.stores[StoreGlobal] = DefaultStores()[StoreGlobal]
	}
	return l
}

// StoreConfig returns the configuration for a named store. Unknown names fall
// back to the global store.
func (l *Limiter) StoreConfig(name string) (Config, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if cfg, ok := l.stores[name]; ok {
		return cfg, name
	}
	return l.stores[StoreGlobal], StoreGlobal
}

// SetStoreConfig replaces one store's configuration at runtime.
func (l *Limiter) SetStoreConfig(name string, cfg Config) {
	l.mu.Lock()
	l.stores[name] = cfg
	l.mu.Unlock()
}

// StoreNames returns the configured store names.
func (l *Limiter) StoreNames() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.stores))
	for k := range l.stores {
		names = append(names, k)
	}
	return names
}

// CheckStore runs Check with the named store's configuration.
func (l *Limiter) CheckStore(ctx context.Context, req RequestContext, store string) *Decision {
	cfg, name := l.StoreConfig(store)
	return l.Check(ctx, req, cfg, name)
}

// Check decides whether a request is admitted. Deny-listed IPs are always
// rejected, even when also allow-listed. Allow-listed IPs are never counted,
// and suspicious requests are rejected before they are counted. Store
// failures admit the request.
func (l *Limiter) Check(ctx context.Context, req RequestContext, cfg Config, store string) *Decision {
	d := l.check(ctx, req, cfg, store)
	metrics.IncRateLimitDecision(store, string(d.Outcome))
	return d
}

func (l *Limiter) check(ctx context.Context, req RequestContext, cfg Config, store string) *Decision {
	cfg = cfg.withDefaults()
	now := l.now()
	d := &Decision{Store: store, Allowed: true}

	if cfg.Skips(req) {
		d.Outcome = OutcomeSkipped
		return d
	}

	if l.lists != nil && req.ClientIP != "" {
		if l.lists.IsDenied(req.ClientIP) {
			d.Allowed = false
			d.Outcome = OutcomeDenied
			l.emit(ctx, req, models.ActionUnauthorizedAccess, models.SeverityCritical, &models.SecurityDetails{
				Reason:   "ip_deny_list",
				Detector: "ip_list",
				Store:    store,
				Path:     req.Path,
				Method:   req.Method,
			})
			return d
		}
		if l.lists.IsAllowed(req.ClientIP) {
			d.Outcome = OutcomeAllowListed
			return d
		}
	}

	patterns := l.patterns
	if cfg.Patterns != nil {
		patterns = cfg.Patterns
	}
	if name, ok := patterns.Match(req.inspectable()); ok {
		d.Allowed = false
		d.Outcome = OutcomeSuspicious
		d.Pattern = name
		l.emit(ctx, req, models.ActionSuspiciousActivity, models.SeverityCritical, &models.SecurityDetails{
			Reason:   "suspicious_pattern",
			Detector: name,
			Store:    store,
			Path:     req.Path,
			Method:   req.Method,
		})
		return d
	}

	key := cfg.KeyFor(req)
	d.Key = key
	d.Limit = cfg.MaxRequests

	var outcome Outcome
	entry, err := l.store.Apply(ctx, storeKey(store, key), func(cur *Entry) (*Entry, error) {
		if cur.Blocked(now) {
			outcome = OutcomeBlocked
			return cur, nil
		}
		if cur == nil || !now.Before(cur.WindowEnd) || cur.BlockedUntil != nil {
			outcome = OutcomeAllowed
			next := &Entry{
				Key:          key,
				Count:        1,
				WindowStart:  now,
				WindowEnd:    now.Add(cfg.Window),
				FirstRequest: now,
				LastRequest:  now,
			}
			if cur != nil {
				next.Violations = cur.Violations
				if cfg.Escalation.ResetAfter > 0 && now.Sub(cur.LastRequest) > cfg.Escalation.ResetAfter {
					next.Violations = 0
				}
			}
			return next, nil
		}
		next := *cur
		next.Count++
		next.LastRequest = now
		if next.Count > cfg.MaxRequests {
			next.Violations++
			until := now.Add(cfg.blockFor(next.Violations))
			next.BlockedUntil = &until
			outcome = OutcomeLimited
		} else {
			outcome = OutcomeAllowed
		}
		return &next, nil
	})
	if err != nil {
		metrics.IncRateLimitStoreError()
		logger.Source("ratelimit").WithFields(logrus.Fields{
			"store":   store,
			"backend": l.backend,
		}).WithError(err).Warn("rate limit store unavailable, admitting request")
		d.Outcome = OutcomeDegraded
		d.Limit = 0
		return d
	}

	d.Outcome = outcome
	d.Remaining = cfg.MaxRequests - entry.Count
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.ResetAt = entry.WindowEnd

	switch outcome {
	case OutcomeBlocked:
		d.Allowed = false
		d.ResetAt = *entry.BlockedUntil
		d.RetryAfter = entry.BlockedUntil.Sub(now)
	case OutcomeLimited:
		d.Allowed = false
		d.ResetAt = *entry.BlockedUntil
		d.RetryAfter = entry.BlockedUntil.Sub(now)
		action := models.ActionRateLimitExceeded
		if store == StoreAuth || cfg.IsAuthPath(req.Path) {
			action = models.ActionBruteForceAttempt
		}
		until := *entry.BlockedUntil
		l.emit(ctx, req, action, models.SeverityHigh, &models.SecurityDetails{
			Reason:        "rate_limit_exceeded",
			Detector:      "rate_limiter",
			Key:           key,
			Store:         store,
			Path:          req.Path,
			Method:        req.Method,
			Count:         entry.Count,
			MaxRequests:   cfg.MaxRequests,
			WindowSeconds: int(cfg.Window.Seconds()),
			BlockedUntil:  &until,
		})
	}
	return d
}

func (l *Limiter) emit(ctx context.Context, req RequestContext, action string, sev models.Severity, details *models.SecurityDetails) {
	log := logger.Source("ratelimit").WithFields(logrus.Fields{
		"action": action,
		"ip":     req.ClientIP,
		"path":   util.SanitizeForLog(req.Path),
	})
	log.Warn("request rejected")
	if l.events == nil {
		return
	}
	ev := &models.AuditEvent{
		ActorID:   req.actorID(),
		Action:    action,
		SourceIP:  req.ClientIP,
		UserAgent: req.UserAgent,
		Severity:  sev,
		Category:  models.CategorySecurity,
		Metadata: models.EventMetadata{
			Severity: sev,
			Category: models.CategorySecurity,
			Security: details,
		},
	}
	if req.Identity != nil {
		ev.OrganizationID = req.Identity.OrganizationID
		ev.StoreID = req.Identity.StoreID
	}
	if err := l.events.Log(ctx, ev); err != nil {
		log.WithError(err).Error("failed to record rate limit event")
	}
}

// Reset clears the entry for key in store.
func (l *Limiter) Reset(ctx context.Context, store, key string) error {
	if err := l.store.Delete(ctx, storeKey(store, key)); err != nil {
		return fmt.Errorf("reset %s/%s: %w", store, key, err)
	}
	return nil
}

// Snapshot returns the current entry for key in store, or nil.
func (l *Limiter) Snapshot(ctx context.Context, store, key string) (*Entry, error) {
	return l.store.Get(ctx, storeKey(store, key))
}

// Entries lists the tracked entries of a store.
func (l *Limiter) Entries(ctx context.Context, store string) ([]Entry, error) {
	return l.store.List(ctx, store+"|")
}

// Sweep drops expired entries, keeping violation history for escalating
// stores until their reset period passes.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	var keep time.Duration
	l.mu.RLock()
	for _, cfg := range l.stores {
		if cfg.Escalation.Enabled && cfg.Escalation.ResetAfter > keep {
			keep = cfg.Escalation.ResetAfter
		}
	}
	l.mu.RUnlock()
	return l.store.Sweep(ctx, l.now().Add(-keep))
}

func storeKey(store, key string) string {
	return store + "|" + key
}
