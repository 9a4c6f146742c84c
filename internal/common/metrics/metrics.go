package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler metrics

	// SchedulerPollsStarted tracks total poll tasks started
	SchedulerPollsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listingwatch",
			Subsystem: "scheduler",
			Name:      "polls_started_total",
			Help:      "Total poll tasks started",
		},
		[]string{"source"},
	)

	// SchedulerPollsCompleted tracks completed poll tasks by outcome
	SchedulerPollsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listingwatch",
			Subsystem: "scheduler",
			Name:      "polls_completed_total",
			Help:      "Total poll tasks completed",
		},
		[]string{"source", "result"}, // result: success, transient_error, store_error, rate_limited, rate_limiter_error, panic
	)

	// SchedulerPollDuration tracks poll task duration
	SchedulerPollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "listingwatch",
			Subsystem: "scheduler",
			Name:      "poll_duration_seconds",
			Help:      "Time to execute a single poll task",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// SchedulerActivePolls tracks in-flight poll tasks
	SchedulerActivePolls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "listingwatch",
			Subsystem: "scheduler",
			Name:      "active_polls",
			Help:      "Number of poll tasks currently in flight",
		},
	)

	// SchedulerReadyQueueDepth tracks targets waiting for a free poll slot
	SchedulerReadyQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "listingwatch",
			Subsystem: "scheduler",
			Name:      "ready_queue_depth",
			Help:      "Number of due polling targets waiting for a free slot",
		},
	)

	// SchedulerWatchdogEvictions tracks stale active-slot evictions
	SchedulerWatchdogEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "listingwatch",
			Subsystem: "scheduler",
			Name:      "watchdog_evictions_total",
			Help:      "Total targets evicted from the active set by the watchdog sweep",
		},
	)

	// SchedulerNextInterval tracks the computed next poll interval per target
	SchedulerNextInterval = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "listingwatch",
			Subsystem: "scheduler",
			Name:      "next_interval_seconds",
			Help:      "Computed next adaptive poll interval",
			Buckets:   []float64{15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// Diff engine metrics

	// DiffEventsEmitted tracks change events emitted by the diff engine
	DiffEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listingwatch",
			Subsystem: "diff",
			Name:      "events_emitted_total",
			Help:      "Total change events emitted",
		},
		[]string{"event_type", "significance"}, // event_type: created/updated/removed; significance: high/medium/low
	)

	// DiffComputeDuration tracks time spent reconciling one poll outcome
	DiffComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "listingwatch",
			Subsystem: "diff",
			Name:      "compute_duration_seconds",
			Help:      "Time to reconcile scraped listings against canonical state",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// DiffListingsCompared tracks listings compared per poll
	DiffListingsCompared = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "listingwatch",
			Subsystem: "diff",
			Name:      "listings_compared",
			Help:      "Number of listings reconciled in a single poll outcome",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000},
		},
	)

	// Store metrics

	// StoreCommits tracks CommitPollOutcome transaction outcomes
	StoreCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listingwatch",
			Subsystem: "store",
			Name:      "commits_total",
			Help:      "Total poll-outcome commits",
		},
		[]string{"result"}, // result: ok, error
	)

	// StoreCommitDuration tracks CommitPollOutcome transaction duration
	StoreCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "listingwatch",
			Subsystem: "store",
			Name:      "commit_duration_seconds",
			Help:      "Time to commit a poll outcome transactionally",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// StoreJournalReplays tracks write-ahead-journal recovery replays at startup
	StoreJournalReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "listingwatch",
			Subsystem: "store",
			Name:      "journal_replays_total",
			Help:      "Total journal entries replayed during startup recovery",
		},
	)

	// StoreCacheHits tracks GetListing cache hits vs misses
	StoreCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listingwatch",
			Subsystem: "store",
			Name:      "cache_lookups_total",
			Help:      "Total listing cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	// Rate limiter metrics

	// RateLimitAllowed tracks allow/deny decisions
	RateLimitAllowed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listingwatch",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total rate limiter decisions",
		},
		[]string{"domain", "result"}, // result: allowed, denied
	)

	// RateLimitRetryAfter tracks retry-after values handed back on denial
	RateLimitRetryAfter = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "listingwatch",
			Subsystem: "ratelimit",
			Name:      "retry_after_seconds",
			Help:      "retryAfter value returned on a denied request",
			Buckets:   []float64{1, 5, 15, 30, 60, 300},
		},
	)

	// Circuit breaker metrics

	// BreakerState tracks circuit breaker state per target; the "domain"
	// label carries the target ID. 0 = closed, 1 = open, 2 = half-open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "listingwatch",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"domain"},
	)

	// BreakerTrips tracks trip-to-open transitions
	BreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listingwatch",
			Subsystem: "breaker",
			Name:      "trips_total",
			Help:      "Total circuit breaker trip-to-open transitions",
		},
		[]string{"domain"},
	)

	// Dispatcher metrics

	// DispatcherEventsClaimed tracks events claimed from the outbox
	DispatcherEventsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "listingwatch",
			Subsystem: "dispatcher",
			Name:      "events_claimed_total",
			Help:      "Total change events claimed for delivery",
		},
	)

	// DispatcherDeliveries tracks subscriber delivery attempts by outcome
	DispatcherDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "listingwatch",
			Subsystem: "dispatcher",
			Name:      "deliveries_total",
			Help:      "Total subscriber delivery attempts",
		},
		[]string{"subscriber_type", "result"}, // result: success, error
	)

	// DispatcherDeliveryDuration tracks delivery latency
	DispatcherDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "listingwatch",
			Subsystem: "dispatcher",
			Name:      "delivery_duration_seconds",
			Help:      "Time to deliver a change event to a subscriber",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"subscriber_type"},
	)

	// DispatcherShardQueueDepth tracks per-shard worker queue depth
	DispatcherShardQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "listingwatch",
			Subsystem: "dispatcher",
			Name:      "shard_queue_depth",
			Help:      "Number of events queued per delivery shard",
		},
		[]string{"shard"},
	)

	// DispatcherDeadLettered tracks events that exhausted retries
	DispatcherDeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "listingwatch",
			Subsystem: "dispatcher",
			Name:      "dead_lettered_total",
			Help:      "Total events dead-lettered after exhausting retries",
		},
	)
)

// CircuitBreakerState constants, used by the breaker package for the BreakerState gauge.
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)
