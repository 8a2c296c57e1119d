package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	gateDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_gate_decisions_total",
		Help: "Requests evaluated by the request gate, labelled by outcome",
	}, []string{"outcome"})
	rateLimitDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_ratelimit_decisions_total",
		Help: "Rate limiter decisions, labelled by store and outcome",
	}, []string{"store", "outcome"})
	rateLimitStoreErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_ratelimit_store_errors_total",
		Help: "Rate limit entry store failures (request admitted)",
	})
	auditEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_audit_events_total",
		Help: "Audit events accepted into the queue, labelled by severity",
	}, []string{"severity"})
	auditDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_audit_events_dropped_total",
		Help: "Low severity audit events dropped by the queue overflow policy",
	})
	auditFlushFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_audit_flush_failures_total",
		Help: "Audit batches that failed to persist and were requeued",
	})
	auditQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_audit_queue_depth",
		Help: "Audit events waiting to be flushed",
	})
	alertsFiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_fired_total",
		Help: "Alerts raised, labelled by rule",
	}, []string{"rule"})
	alertDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alert_deliveries_total",
		Help: "Alert channel deliveries, labelled by channel and status",
	}, []string{"channel", "status"})
	ruleErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alert_rule_errors_total",
		Help: "Alert rule predicates that failed during evaluation",
	}, []string{"rule"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(
		gateDecisionsTotal,
		rateLimitDecisionsTotal,
		rateLimitStoreErrorsTotal,
		auditEventsTotal,
		auditDroppedTotal,
		auditFlushFailuresTotal,
		auditQueueDepth,
		alertsFiredTotal,
		alertDeliveriesTotal,
		ruleErrorsTotal,
	)
}

// IncGateDecision counts a request gate outcome (allowed, denied, throttled, ...).
func IncGateDecision(outcome string) { gateDecisionsTotal.WithLabelValues(outcome).Inc() }

// IncRateLimitDecision counts a rate limiter decision.
func IncRateLimitDecision(store, outcome string) {
	rateLimitDecisionsTotal.WithLabelValues(store, outcome).Inc()
}

// IncRateLimitStoreError counts an entry store failure.
func IncRateLimitStoreError() { rateLimitStoreErrorsTotal.Inc() }

// IncAuditEvent counts an accepted audit event.
func IncAuditEvent(severity string) { auditEventsTotal.WithLabelValues(severity).Inc() }

// IncAuditDropped counts a dropped audit event.
func IncAuditDropped() { auditDroppedTotal.Inc() }

// IncAuditFlushFailure counts a failed flush.
func IncAuditFlushFailure() { auditFlushFailuresTotal.Inc() }

// SetAuditQueueDepth records the current queue length.
func SetAuditQueueDepth(n int) { auditQueueDepth.Set(float64(n)) }

// IncAlertFired counts a raised alert.
func IncAlertFired(rule string) { alertsFiredTotal.WithLabelValues(rule).Inc() }

// IncAlertDelivery counts a channel delivery attempt.
func IncAlertDelivery(channel, status string) {
	alertDeliveriesTotal.WithLabelValues(channel, status).Inc()
}

// IncRuleError counts a failing rule predicate.
func IncRuleError(rule string) { ruleErrorsTotal.WithLabelValues(rule).Inc() }
