package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Message pipeline metrics
	MessagesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_messages_handled_total",
			Help: "Total number of inbound messages handled",
		},
		[]string{"status"},
	)

	MessageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "switchboard_message_duration_seconds",
			Help:    "End-to-end message handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Handoff metrics
	HandoffsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_handoffs_initiated_total",
			Help: "Total number of handoffs initiated",
		},
		[]string{"category"},
	)

	HandoffsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_handoffs_completed_total",
			Help: "Total number of handoffs reaching a terminal state",
		},
		[]string{"category", "state"},
	)

	HandoffDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchboard_handoff_duration_seconds",
			Help:    "Handoff duration from request to terminal state in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"category"},
	)

	HandoffsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switchboard_handoffs_rejected_total",
			Help: "Total number of handoffs rejected because one was already in progress",
		},
	)

	FallbacksUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_fallbacks_used_total",
			Help: "Total number of handoffs resolved through a fallback category",
		},
		[]string{"from_category", "to_category"},
	)

	// Catalog metrics
	CatalogRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_catalog_refreshes_total",
			Help: "Total number of catalog refresh attempts",
		},
		[]string{"status", "forced"},
	)

	CatalogWorkflows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "switchboard_catalog_workflows",
			Help: "Number of workflows in the current catalog snapshot per category",
		},
		[]string{"category"},
	)

	CatalogRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "switchboard_catalog_refresh_duration_seconds",
			Help:    "Catalog refresh duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Intent classification metrics
	IntentClassifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_intent_classifications_total",
			Help: "Total number of intent classifications",
		},
		[]string{"intent", "status"},
	)

	IntentConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "switchboard_intent_confidence",
			Help:    "Confidence scores returned by the intent classifier",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	// Guardrail metrics
	GuardrailChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_guardrail_checks_total",
			Help: "Total number of guardrail checks",
		},
		[]string{"result", "mode"},
	)

	GuardrailLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "switchboard_guardrail_latency_seconds",
			Help:    "Guardrail check latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Webhook metrics
	WebhookCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_webhook_calls_total",
			Help: "Total number of external webhook invocations",
		},
		[]string{"status"},
	)

	WebhookLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "switchboard_webhook_latency_seconds",
			Help:    "External webhook invocation latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switchboard_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switchboard_session_cache_hits_total",
			Help: "Total number of session cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switchboard_session_cache_misses_total",
			Help: "Total number of session cache misses",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "switchboard_session_cache_size",
			Help: "Current number of sessions in the local cache",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "switchboard_session_cache_evictions_total",
			Help: "Total number of sessions evicted from the local cache",
		},
	)
)

// RecordHandoffTerminal records metrics for a handoff reaching a terminal state.
func RecordHandoffTerminal(category, state string, durationSeconds float64) {
	HandoffsCompleted.WithLabelValues(category, state).Inc()
	if durationSeconds > 0 {
		HandoffDuration.WithLabelValues(category).Observe(durationSeconds)
	}
}

// RecordCatalogRefresh records a catalog refresh attempt.
func RecordCatalogRefresh(status string, forced bool, durationSeconds float64) {
	forcedLabel := "false"
	if forced {
		forcedLabel = "true"
	}
	CatalogRefreshes.WithLabelValues(status, forcedLabel).Inc()
	if durationSeconds > 0 {
		CatalogRefreshDuration.Observe(durationSeconds)
	}
}

// RecordIntent records an intent classification outcome.
func RecordIntent(intent, status string, confidence float64) {
	IntentClassifications.WithLabelValues(intent, status).Inc()
	if confidence > 0 {
		IntentConfidence.Observe(confidence)
	}
}

// RecordGuardrailCheck records a guardrail decision.
func RecordGuardrailCheck(result, mode string, durationSeconds float64) {
	GuardrailChecks.WithLabelValues(result, mode).Inc()
	if durationSeconds > 0 {
		GuardrailLatency.Observe(durationSeconds)
	}
}

// RecordWebhookCall records an external webhook invocation.
func RecordWebhookCall(status string, durationSeconds float64) {
	WebhookCalls.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		WebhookLatency.Observe(durationSeconds)
	}
}
