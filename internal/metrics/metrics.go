package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "haircutfun_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_rate_limited_total",
			Help: "Total number of requests rejected by a rate limiter",
		},
		[]string{"scope"},
	)

	// Billing Metrics
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_webhook_events_total",
			Help: "Total number of billing webhook events by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	PlanInferenceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_plan_inference_total",
			Help: "Plan inferences by the rule that decided them",
		},
		[]string{"source", "plan"},
	)

	DowngradeGuardTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "haircutfun_downgrade_guard_total",
			Help: "Times an inferred free plan was ignored for an active paid subscription",
		},
	)

	SubscriptionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_subscription_transitions_total",
			Help: "Subscription state transitions applied by the reconciler",
		},
		[]string{"trigger", "status", "plan_changed"},
	)

	CheckoutSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_checkout_sessions_total",
			Help: "Checkout sessions created by plan",
		},
		[]string{"plan"},
	)

	// Generation Metrics
	GenerationAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_generation_attempts_total",
			Help: "Image generation attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	GenerationRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_generation_retries_total",
			Help: "Image generation retries after a transient upstream failure",
		},
		[]string{"provider"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "haircutfun_generation_duration_seconds",
			Help:    "End-to-end image generation latency including retries",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 min
		},
		[]string{"provider"},
	)

	UsageIncrementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_usage_increments_total",
			Help: "Usage ledger increments by outcome (recorded, deferred, dropped)",
		},
		[]string{"outcome"},
	)

	QuotaRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_quota_rejections_total",
			Help: "Generation requests rejected for lack of entitlement",
		},
		[]string{"caller"},
	)

	// Provider Metrics
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "haircutfun_provider_call_duration_seconds",
			Help:    "Outbound third-party API call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "status"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_storage_operations_total",
			Help: "Total number of object storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from object storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "haircutfun_database_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Queue Metrics
	QueueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_queue_messages_total",
			Help: "Queue messages by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "haircutfun_queue_depth",
			Help: "Messages waiting in a queue at the last sample",
		},
		[]string{"queue"},
	)

	// Notification Metrics
	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_emails_sent_total",
			Help: "Billing notices sent by kind and status",
		},
		[]string{"kind", "status"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haircutfun_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordHTTPRequest records an HTTP request metric
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimited records a request rejected by a limiter
func RecordRateLimited(scope string) {
	RateLimitedTotal.WithLabelValues(scope).Inc()
}

// RecordWebhookEvent records a processed webhook event
func RecordWebhookEvent(eventType, outcome string) {
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordPlanInference records which rule decided a plan
func RecordPlanInference(source, plan string) {
	PlanInferenceTotal.WithLabelValues(source, plan).Inc()
}

// RecordDowngradeGuard records a suppressed downgrade
func RecordDowngradeGuard() {
	DowngradeGuardTotal.Inc()
}

// RecordSubscriptionTransition records a reconciler transition
func RecordSubscriptionTransition(trigger, status string, planChanged bool) {
	changed := "false"
	if planChanged {
		changed = "true"
	}
	SubscriptionTransitionsTotal.WithLabelValues(trigger, status, changed).Inc()
}

// RecordCheckoutSession records a created checkout session
func RecordCheckoutSession(plan string) {
	CheckoutSessionsTotal.WithLabelValues(plan).Inc()
}

// RecordGenerationAttempt records a single call to the generation provider
func RecordGenerationAttempt(provider, outcome string) {
	GenerationAttemptsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordGenerationRetry records a retry of the generation provider
func RecordGenerationRetry(provider string) {
	GenerationRetriesTotal.WithLabelValues(provider).Inc()
}

// RecordGenerationDuration records the end-to-end generation latency
func RecordGenerationDuration(provider string, duration float64) {
	GenerationDuration.WithLabelValues(provider).Observe(duration)
}

// RecordUsageIncrement records the fate of a usage increment
func RecordUsageIncrement(outcome string) {
	UsageIncrementsTotal.WithLabelValues(outcome).Inc()
}

// RecordQuotaRejection records a generation refused for lack of entitlement
func RecordQuotaRejection(caller string) {
	QuotaRejectionsTotal.WithLabelValues(caller).Inc()
}

// RecordProviderCall records an outbound third-party API call
func RecordProviderCall(provider, operation string, duration float64, err error) {
	ProviderCallDuration.WithLabelValues(provider, operation, statusLabel(err)).Observe(duration)
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	if bytesTransferred > 0 {
		StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
	}
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation string, duration float64, err error) {
	DatabaseOperationDuration.WithLabelValues(operation, statusLabel(err)).Observe(duration)
}

// RecordCacheAccess records a cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordQueueMessage records a queue publish or consume outcome
func RecordQueueMessage(queue, outcome string) {
	QueueMessagesTotal.WithLabelValues(queue, outcome).Inc()
}

// SetQueueDepth records the sampled depth of a queue
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordEmailSent records a billing notice delivery attempt
func RecordEmailSent(kind string, err error) {
	EmailsSentTotal.WithLabelValues(kind, statusLabel(err)).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
