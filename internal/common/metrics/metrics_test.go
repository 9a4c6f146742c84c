package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// === Scheduler Metrics Tests ===

func TestSchedulerPollsStarted_Labels(t *testing.T) {
	SchedulerPollsStarted.WithLabelValues("example").Inc()

	counter := SchedulerPollsStarted.WithLabelValues("example")
	if counter == nil {
		t.Error("expected counter to be non-nil")
	}
}

func TestSchedulerPollsCompleted_Labels(t *testing.T) {
	results := []string{"success", "transient_error", "store_error", "config_error"}
	for _, result := range results {
		SchedulerPollsCompleted.WithLabelValues("example", result).Inc()
	}

	counter := SchedulerPollsCompleted.WithLabelValues("example", "success")
	if counter == nil {
		t.Error("expected counter to be non-nil")
	}
}

func TestSchedulerPollDuration_Observe(t *testing.T) {
	SchedulerPollDuration.WithLabelValues("example").Observe(0.25)

	histogram := SchedulerPollDuration.WithLabelValues("example")
	if histogram == nil {
		t.Error("expected histogram to be non-nil")
	}
}

func TestSchedulerActivePolls_GaugeOperations(t *testing.T) {
	SchedulerActivePolls.Set(5)
	SchedulerActivePolls.Inc()
	SchedulerActivePolls.Dec()
	SchedulerActivePolls.Add(10)
	SchedulerActivePolls.Sub(3)

	if desc := SchedulerActivePolls.Desc(); desc == nil {
		t.Error("expected Desc to be non-nil")
	}
}

func TestSchedulerReadyQueueDepth_Gauge(t *testing.T) {
	SchedulerReadyQueueDepth.Set(42)
	if desc := SchedulerReadyQueueDepth.Desc(); desc == nil {
		t.Error("expected Desc to be non-nil")
	}
}

func TestSchedulerWatchdogEvictions_Counter(t *testing.T) {
	SchedulerWatchdogEvictions.Inc()
	SchedulerWatchdogEvictions.Add(3)

	if desc := SchedulerWatchdogEvictions.Desc(); desc == nil {
		t.Error("expected Desc to be non-nil")
	}
}

func TestSchedulerNextInterval_Observe(t *testing.T) {
	SchedulerNextInterval.Observe(60)
	SchedulerNextInterval.Observe(1800)

	if desc := SchedulerNextInterval.Desc(); desc == nil {
		t.Error("expected Desc to be non-nil")
	}
}

// === Diff Engine Metrics Tests ===

func TestDiffEventsEmitted_Labels(t *testing.T) {
	eventTypes := []string{"CREATED", "UPDATED", "REMOVED"}
	significances := []string{"high", "medium", "low"}

	for _, eventType := range eventTypes {
		for _, significance := range significances {
			DiffEventsEmitted.WithLabelValues(eventType, significance).Inc()
		}
	}

	counter := DiffEventsEmitted.WithLabelValues("CREATED", "high")
	if counter == nil {
		t.Error("expected counter to be non-nil")
	}
}

func TestDiffComputeDuration_Observe(t *testing.T) {
	DiffComputeDuration.Observe(0.05)
	if desc := DiffComputeDuration.Desc(); desc == nil {
		t.Error("expected Desc to be non-nil")
	}
}

func TestDiffListingsCompared_Observe(t *testing.T) {
	DiffListingsCompared.Observe(120)
	if desc := DiffListingsCompared.Desc(); desc == nil {
		t.Error("expected Desc to be non-nil")
	}
}

// === Store Metrics Tests ===

func TestStoreCommits_Labels(t *testing.T) {
	results := []string{"success", "failed", "journaled"}
	for _, result := range results {
		StoreCommits.WithLabelValues(result).Inc()
	}

	counter := StoreCommits.WithLabelValues("journaled")
	if counter == nil {
		t.Error("expected counter to be non-nil")
	}
}

func TestStoreCommitDuration_Observe(t *testing.T) {
	StoreCommitDuration.Observe(0.01)
	if desc := StoreCommitDuration.Desc(); desc == nil {
		t.Error("expected Desc to be non-nil")
	}
}

func TestStoreJournalReplays_Counter(t *testing.T) {
	StoreJournalReplays.Inc()
	StoreJournalReplays.Add(4)

	if desc := StoreJournalReplays.Desc(); desc == nil {
		t.Error("expected Desc to be non-nil")
	}
}

func TestStoreCacheHits_Labels(t *testing.T) {
	StoreCacheHits.WithLabelValues("hit").Inc()
	StoreCacheHits.WithLabelValues("miss").Inc()

	counter := StoreCacheHits.WithLabelValues("hit")
	if counter == nil {
		t.Error("expected counter to be non-nil")
	}
}

// === Rate Limiter Metrics Tests ===

func TestRateLimitAllowed_Labels(t *testing.T) {
	RateLimitAllowed.WithLabelValues("example.marketplace", "allowed").Inc()
	RateLimitAllowed.WithLabelValues("example.marketplace", "denied").Inc()

	counter := RateLimitAllowed.WithLabelValues("example.marketplace", "denied")
	if counter == nil {
		t.Error("expected counter to be non-nil")
	}
}

func TestRateLimitRetryAfter_Observe(t *testing.T) {
	RateLimitRetryAfter.Observe(30)
	if desc := RateLimitRetryAfter.Desc(); desc == nil {
		t.Error("expected Desc to be non-nil")
	}
}

// === Circuit Breaker Metrics Tests ===

func TestBreakerState_Values(t *testing.T) {
	gauge := BreakerState.WithLabelValues("example.marketplace")

	gauge.Set(CircuitBreakerClosed)
	gauge.Set(CircuitBreakerOpen)
	gauge.Set(CircuitBreakerHalfOpen)

	if gauge == nil {
		t.Error("expected gauge to be non-nil")
	}
}

func TestBreakerTrips_Counter(t *testing.T) {
	BreakerTrips.WithLabelValues("example.marketplace").Inc()

	counter := BreakerTrips.WithLabelValues("example.marketplace")
	if counter == nil {
		t.Error("expected counter to be non-nil")
	}
}

// === Dispatcher Metrics Tests ===

func TestDispatcherEventsClaimed_Counter(t *testing.T) {
	DispatcherEventsClaimed.Inc()
	DispatcherEventsClaimed.Add(5)

	if desc := DispatcherEventsClaimed.Desc(); desc == nil {
		t.Error("expected Desc to be non-nil")
	}
}

func TestDispatcherDeliveries_Labels(t *testing.T) {
	results := []string{"success", "retry", "dead_letter"}
	for _, result := range results {
		DispatcherDeliveries.WithLabelValues("WEBHOOK", result).Inc()
	}

	counter := DispatcherDeliveries.WithLabelValues("WEBHOOK", "success")
	if counter == nil {
		t.Error("expected counter to be non-nil")
	}
}

func TestDispatcherDeliveryDuration_Observe(t *testing.T) {
	DispatcherDeliveryDuration.WithLabelValues("WEBHOOK").Observe(0.2)

	histogram := DispatcherDeliveryDuration.WithLabelValues("WEBHOOK")
	if histogram == nil {
		t.Error("expected histogram to be non-nil")
	}
}

func TestDispatcherShardQueueDepth_Labels(t *testing.T) {
	DispatcherShardQueueDepth.WithLabelValues("0").Set(3)
	DispatcherShardQueueDepth.WithLabelValues("1").Set(7)

	gauge := DispatcherShardQueueDepth.WithLabelValues("0")
	if gauge == nil {
		t.Error("expected gauge to be non-nil")
	}
}

func TestDispatcherDeadLettered_Counter(t *testing.T) {
	DispatcherDeadLettered.Inc()
	if desc := DispatcherDeadLettered.Desc(); desc == nil {
		t.Error("expected Desc to be non-nil")
	}
}

// === Circuit Breaker Constants Tests ===

func TestCircuitBreakerConstants(t *testing.T) {
	if CircuitBreakerClosed != 0 {
		t.Errorf("expected CircuitBreakerClosed=0, got %v", CircuitBreakerClosed)
	}
	if CircuitBreakerOpen != 1 {
		t.Errorf("expected CircuitBreakerOpen=1, got %v", CircuitBreakerOpen)
	}
	if CircuitBreakerHalfOpen != 2 {
		t.Errorf("expected CircuitBreakerHalfOpen=2, got %v", CircuitBreakerHalfOpen)
	}
}

// === Generic Prometheus Helper Tests ===

func TestCounterValue(t *testing.T) {
	reg := prometheus.NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter",
	})
	reg.MustRegister(counter)

	counter.Add(5)
	if val := testutil.ToFloat64(counter); val != 5 {
		t.Errorf("expected counter value 5, got %f", val)
	}

	counter.Inc()
	if val := testutil.ToFloat64(counter); val != 6 {
		t.Errorf("expected counter value 6, got %f", val)
	}
}

func TestGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "Test gauge",
	})
	reg.MustRegister(gauge)

	gauge.Set(100)
	if val := testutil.ToFloat64(gauge); val != 100 {
		t.Errorf("expected gauge value 100, got %f", val)
	}

	gauge.Sub(30)
	if val := testutil.ToFloat64(gauge); val != 70 {
		t.Errorf("expected gauge value 70, got %f", val)
	}
}

// === Integration-style Tests ===

func TestSchedulerMetricsIntegration(t *testing.T) {
	for i := 0; i < 20; i++ {
		result := "success"
		if i%5 == 0 {
			result = "transient_error"
		}
		SchedulerPollsStarted.WithLabelValues("example").Inc()
		SchedulerPollsCompleted.WithLabelValues("example", result).Inc()
		SchedulerPollDuration.WithLabelValues("example").Observe(float64(i) * 0.01)
	}
	SchedulerActivePolls.Set(3)
	SchedulerReadyQueueDepth.Set(12)
}

func TestDispatcherMetricsIntegration(t *testing.T) {
	for i := 0; i < 10; i++ {
		result := "success"
		if i%3 == 0 {
			result = "retry"
		}
		DispatcherEventsClaimed.Inc()
		DispatcherDeliveries.WithLabelValues("WEBHOOK", result).Inc()
		DispatcherDeliveryDuration.WithLabelValues("WEBHOOK").Observe(0.05)
	}
	DispatcherShardQueueDepth.WithLabelValues("0").Set(2)
}

// Benchmark for counter operations.
func BenchmarkSchedulerPollsStartedInc(b *testing.B) {
	counter := SchedulerPollsStarted.WithLabelValues("bench")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		counter.Inc()
	}
}

// Benchmark for histogram observations.
func BenchmarkDispatcherDeliveryDurationObserve(b *testing.B) {
	histogram := DispatcherDeliveryDuration.WithLabelValues("bench")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		histogram.Observe(0.123)
	}
}

// Benchmark for gauge set operations.
func BenchmarkSchedulerActivePollsSet(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SchedulerActivePolls.Set(float64(i))
	}
}
