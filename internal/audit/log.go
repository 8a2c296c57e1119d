package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/sentinel/backend/internal/logger"
	"github.com/Wikid82/sentinel/backend/internal/metrics"
	"github.com/Wikid82/sentinel/backend/internal/models"
	"github.com/Wikid82/sentinel/backend/internal/scheduler"
)

var (
	// ErrInvalidEvent is returned for events that cannot be recorded.
	ErrInvalidEvent = errors.New("invalid audit event")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("audit log closed")
)

// Overflow policies applied to low severity events once MaxQueue is reached.
const (
	OverflowDropOldestLow = "drop_oldest_low"
	OverflowRejectNewLow  = "reject_new_low"
)

const criticalFlushTimeout = 10 * time.Second

// Options tunes queueing and flushing.
type Options struct {
	FlushInterval  time.Duration
	BatchSize      int
	MaxQueue       int
	OverflowPolicy string
	RetentionDays  int
}

func (o Options) withDefaults() Options {
	if o.FlushInterval <= 0 {
		o.FlushInterval = 30 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.MaxQueue <= 0 {
		o.MaxQueue = 10000
	}
	if o.OverflowPolicy != OverflowRejectNewLow {
		o.OverflowPolicy = OverflowDropOldestLow
	}
	if o.RetentionDays <= 0 {
		o.RetentionDays = 90
	}
	return o
}

// Log queues audit events in memory and writes them to a Store in batches.
// Critical events are written before Log returns.
type Log struct {
	store Store
	opts  Options
	hub   *Hub
	task  *scheduler.Task
	now   func() time.Time

	mu       sync.Mutex
	queue    []*models.AuditEvent
	inflight []*models.AuditEvent
	closed   bool

	flushMu sync.Mutex
	dropped atomic.Int64
}

// Option configures a Log.
type Option func(*Log)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithHub publishes recorded events to hub.
func WithHub(h *Hub) Option {
	return func(l *Log) { l.hub = h }
}

// New creates a Log writing to store. Call Start to enable periodic flushing.
func New(store Store, opts Options, options ...Option) *Log {
	l := &Log{
		store: store,
		opts:  opts.withDefaults(),
		now:   time.Now,
	}
	for _, o := range options {
		o(l)
	}
	if l.hub == nil {
		l.hub = NewHub()
	}
	l.task = scheduler.NewTask("audit-flush", l.opts.FlushInterval, l.cycle)
	return l
}

// Start begins the periodic flush.
func (l *Log) Start(ctx context.Context) {
	l.task.Start(ctx)
}

// Log records ev. Only invalid events are reported as errors; persistence
// failures are retried on later flushes.
func (l *Log) Log(ctx context.Context, ev *models.AuditEvent) error {
	if ev == nil || ev.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidEvent)
	}
	if err := l.prepare(ev); err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	accepted := l.enqueueLocked(ev)
	depth := len(l.queue)
	l.mu.Unlock()

	metrics.SetAuditQueueDepth(depth)
	if !accepted {
		l.dropped.Add(1)
		metrics.IncAuditDropped()
		logger.Source("audit").WithFields(logrus.Fields{
			"action": ev.Action,
			"queue":  depth,
		}).Warn("audit queue full, dropped low severity event")
		return nil
	}
	metrics.IncAuditEvent(string(ev.Severity))

	if ev.Severity.AtLeast(models.SeverityHigh) {
		l.mirror(ev)
	}
	l.hub.publish(ev)

	if ev.Severity == models.SeverityCritical {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), criticalFlushTimeout)
		defer cancel()
		if err := l.Flush(fctx); err != nil {
			logger.Source("audit").WithError(err).Error("critical event flush failed, requeued")
		}
	}
	return nil
}

func (l *Log) prepare(ev *models.AuditEvent) error {
	if ev.Severity == "" {
		ev.Severity = models.SeverityLow
	}
	if ev.Category == "" {
		ev.Category = models.CategorySystem
	}
	if !ev.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidEvent, ev.Severity)
	}
	if !ev.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidEvent, ev.Category)
	}
	if IsSensitiveTable(ev.ResourceTable) && !ev.Severity.AtLeast(models.SeverityHigh) {
		ev.Severity = models.SeverityHigh
	}
	ev.Metadata.Severity = ev.Severity
	ev.Metadata.Category = ev.Category
	if err := ev.Metadata.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	return nil
}

// enqueueLocked applies the overflow policy. Medium and above are always
// accepted.
func (l *Log) enqueueLocked(ev *models.AuditEvent) bool {
	if len(l.queue) >= l.opts.MaxQueue {
		low := ev.Severity == models.SeverityLow
		switch {
		case low && l.opts.OverflowPolicy == OverflowRejectNewLow:
			return false
		case l.opts.OverflowPolicy == OverflowDropOldestLow:
			if !l.evictOldestLowLocked() && low {
				return false
			}
		}
	}
	l.queue = append(l.queue, ev)
	return true
}

func (l *Log) evictOldestLowLocked() bool {
	for i, q := range l.queue {
		if q.Severity == models.SeverityLow {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			l.dropped.Add(1)
			metrics.IncAuditDropped()
			return true
		}
	}
	return false
}

func (l *Log) mirror(ev *models.AuditEvent) {
	entry := logger.Source("audit").WithFields(logrus.Fields{
		"event_id":  ev.ID,
		"action":    ev.Action,
		"severity":  ev.Severity,
		"category":  ev.Category,
		"actor_id":  ev.ActorID,
		"source_ip": ev.SourceIP,
	})
	if ev.Severity == models.SeverityCritical {
		entry.Error("critical audit event")
		return
	}
	entry.Warn("high severity audit event")
}

// cycle is the periodic flush: at most one batch per tick.
func (l *Log) cycle(ctx context.Context) {
	if err := l.flush(ctx, false); err != nil {
		logger.Source("audit").WithError(err).Warn("periodic audit flush failed, batch requeued")
	}
}

// Flush writes the whole queue in batches. A failed batch is put back at
// the front of the queue.
func (l *Log) Flush(ctx context.Context) error {
	return l.flush(ctx, true)
}

func (l *Log) flush(ctx context.Context, all bool) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	for {
		batch := l.take()
		if len(batch) == 0 {
			return nil
		}
		if err := l.store.Insert(ctx, batch); err != nil {
			l.requeue(batch)
			metrics.IncAuditFlushFailure()
			return fmt.Errorf("flush %d audit events: %w", len(batch), err)
		}
		l.mu.Lock()
		l.inflight = nil
		depth := len(l.queue)
		l.mu.Unlock()
		metrics.SetAuditQueueDepth(depth)
		if !all {
			return nil
		}
	}
}

func (l *Log) take() []*models.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.queue)
	if n > l.opts.BatchSize {
		n = l.opts.BatchSize
	}
	batch := make([]*models.AuditEvent, n)
	copy(batch, l.queue[:n])
	l.queue = l.queue[n:]
	l.inflight = batch
	return batch
}

func (l *Log) requeue(batch []*models.AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := make([]*models.AuditEvent, 0, len(batch)+len(l.queue))
	q = append(q, batch...)
	l.queue = append(q, l.queue...)
	l.inflight = nil
}

// QueueLen returns the number of events awaiting persistence.
func (l *Log) QueueLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Dropped returns how many low severity events were discarded on overflow.
func (l *Log) Dropped() int64 {
	return l.dropped.Load()
}

// Subscribe returns a live feed of events at or above min.
func (l *Log) Subscribe(min models.Severity, buffer int) *Subscription {
	return l.hub.Subscribe(min, buffer)
}

// Query returns stored events matching f, newest first.
func (l *Log) Query(ctx context.Context, f Filter) (*Page, error) {
	f = f.normalized()
	events, total, err := l.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	return &Page{Events: events, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Stats aggregates stored events within scope.
func (l *Log) Stats(ctx context.Context, scope Scope) (*Stats, error) {
	return l.store.Stats(ctx, scope, l.now())
}

// Recent returns events created since the given time, oldest first,
// including events still waiting in the queue.
func (l *Log) Recent(ctx context.Context, since time.Time, category models.Category) ([]models.AuditEvent, error) {
	stored, err := l.store.Since(ctx, since, category)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(stored))
	for _, ev := range stored {
		seen[ev.ID] = struct{}{}
	}

	l.mu.Lock()
	pending := make([]*models.AuditEvent, 0, len(l.inflight)+len(l.queue))
	pending = append(pending, l.inflight...)
	pending = append(pending, l.queue...)
	l.mu.Unlock()

	for _, ev := range pending {
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		if ev.CreatedAt.Before(since) || (category != "" && ev.Category != category) {
			continue
		}
		seen[ev.ID] = struct{}{}
		stored = append(stored, *ev)
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].CreatedAt.Before(stored[j].CreatedAt) })
	return stored, nil
}

// Cleanup deletes events older than retentionDays (the configured default
// when not positive) and returns how many were removed.
func (l *Log) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = l.opts.RetentionDays
	}
	cutoff := l.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	n, err := l.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	logger.Source("audit").WithFields(logrus.Fields{
		"deleted":        n,
		"retention_days": retentionDays,
	}).Info("audit retention cleanup complete")
	_ = l.LogSystem(ctx, models.ActionAuditCleanup, models.SeverityLow, models.SystemDetails{
		Component: "audit",
		Message:   fmt.Sprintf("deleted %d events older than %d days", n, retentionDays),
	})
	return n, nil
}

// Close stops the periodic flush and drains the queue.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.task.Stop()
	l.hub.Close()
	return l.Flush(ctx)
}
