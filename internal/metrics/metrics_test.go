package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("POST", "/api/generate-haircut", "200", 0.123)

	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/generate-haircut", "200"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordWebhookEvent(t *testing.T) {
	WebhookEventsTotal.Reset()

	RecordWebhookEvent("customer.subscription.updated", "handled")
	RecordWebhookEvent("customer.subscription.updated", "handled")
	RecordWebhookEvent("charge.refunded", "ignored")

	handled := testutil.ToFloat64(WebhookEventsTotal.WithLabelValues("customer.subscription.updated", "handled"))
	if handled != 2.0 {
		t.Errorf("Expected handled counter to be 2.0, got %f", handled)
	}

	ignored := testutil.ToFloat64(WebhookEventsTotal.WithLabelValues("charge.refunded", "ignored"))
	if ignored != 1.0 {
		t.Errorf("Expected ignored counter to be 1.0, got %f", ignored)
	}
}

func TestRecordPlanInference(t *testing.T) {
	PlanInferenceTotal.Reset()

	RecordPlanInference("price_id", "premium")

	got := testutil.ToFloat64(PlanInferenceTotal.WithLabelValues("price_id", "premium"))
	if got != 1.0 {
		t.Errorf("Expected inference counter to be 1.0, got %f", got)
	}
}

func TestRecordDowngradeGuard(t *testing.T) {
	before := testutil.ToFloat64(DowngradeGuardTotal)
	RecordDowngradeGuard()
	after := testutil.ToFloat64(DowngradeGuardTotal)

	if after-before != 1.0 {
		t.Errorf("Expected downgrade guard counter to grow by 1, got %f", after-before)
	}
}

func TestRecordSubscriptionTransition(t *testing.T) {
	SubscriptionTransitionsTotal.Reset()

	RecordSubscriptionTransition("webhook", "active", true)
	RecordSubscriptionTransition("webhook", "active", false)

	changed := testutil.ToFloat64(SubscriptionTransitionsTotal.WithLabelValues("webhook", "active", "true"))
	unchanged := testutil.ToFloat64(SubscriptionTransitionsTotal.WithLabelValues("webhook", "active", "false"))
	if changed != 1.0 || unchanged != 1.0 {
		t.Errorf("Expected one changed and one unchanged transition, got %f and %f", changed, unchanged)
	}
}

func TestRecordGenerationMetrics(t *testing.T) {
	GenerationAttemptsTotal.Reset()
	GenerationRetriesTotal.Reset()

	RecordGenerationAttempt("gemini", "upstream_error")
	RecordGenerationAttempt("gemini", "upstream_error")
	RecordGenerationAttempt("gemini", "success")
	RecordGenerationRetry("gemini")
	RecordGenerationRetry("gemini")
	RecordGenerationDuration("gemini", 6.2)

	if got := testutil.ToFloat64(GenerationAttemptsTotal.WithLabelValues("gemini", "upstream_error")); got != 2.0 {
		t.Errorf("Expected 2 upstream errors, got %f", got)
	}
	if got := testutil.ToFloat64(GenerationRetriesTotal.WithLabelValues("gemini")); got != 2.0 {
		t.Errorf("Expected 2 retries, got %f", got)
	}
}

func TestRecordProviderCall(t *testing.T) {
	ProviderCallDuration.Reset()

	RecordProviderCall("stripe", "subscriptions.get", 0.05, nil)
	RecordProviderCall("stripe", "subscriptions.get", 0.05, errors.New("boom"))

	if n := testutil.CollectAndCount(ProviderCallDuration); n != 2 {
		t.Errorf("Expected 2 provider call series, got %d", n)
	}
}

func TestRecordStorageOperation(t *testing.T) {
	StorageOperationsTotal.Reset()
	StorageBytesTransferred.Reset()

	RecordStorageOperation("upload", "success", 2.5, 1048576)

	operations := testutil.ToFloat64(StorageOperationsTotal.WithLabelValues("upload", "success"))
	if operations != 1.0 {
		t.Errorf("Expected operations counter to be 1.0, got %f", operations)
	}

	bytes := testutil.ToFloat64(StorageBytesTransferred.WithLabelValues("upload"))
	if bytes != 1048576.0 {
		t.Errorf("Expected bytes transferred to be 1048576.0, got %f", bytes)
	}
}

func TestRecordCacheAccess(t *testing.T) {
	CacheHitsTotal.Reset()
	CacheMissesTotal.Reset()

	RecordCacheAccess("subscription_status", true)
	RecordCacheAccess("subscription_status", true)
	RecordCacheAccess("subscription_status", false)

	hits := testutil.ToFloat64(CacheHitsTotal.WithLabelValues("subscription_status"))
	if hits != 2.0 {
		t.Errorf("Expected cache hits to be 2.0, got %f", hits)
	}

	misses := testutil.ToFloat64(CacheMissesTotal.WithLabelValues("subscription_status"))
	if misses != 1.0 {
		t.Errorf("Expected cache misses to be 1.0, got %f", misses)
	}
}

func TestRecordEmailSent(t *testing.T) {
	EmailsSentTotal.Reset()

	RecordEmailSent("payment_failed", nil)
	RecordEmailSent("payment_failed", errors.New("smtp down"))

	if got := testutil.ToFloat64(EmailsSentTotal.WithLabelValues("payment_failed", "error")); got != 1.0 {
		t.Errorf("Expected 1 failed email, got %f", got)
	}
}

func TestRecordError(t *testing.T) {
	ErrorsTotal.Reset()

	RecordError("reconciler", "upsert_failed")
	RecordError("reconciler", "upsert_failed")

	errs := testutil.ToFloat64(ErrorsTotal.WithLabelValues("reconciler", "upsert_failed"))
	if errs != 2.0 {
		t.Errorf("Expected error counter to be 2.0, got %f", errs)
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordHTTPRequest("GET", "/api/usage", "200", 0.05)
	}
}
