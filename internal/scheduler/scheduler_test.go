package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongodb "github.com/testcontainers/testcontainers-go/modules/mongodb"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/tunahanbr/willhaben/internal/breaker"
	commonmongo "github.com/tunahanbr/willhaben/internal/common/mongo"
	"github.com/tunahanbr/willhaben/internal/config"
	"github.com/tunahanbr/willhaben/internal/fetch"
	"github.com/tunahanbr/willhaben/internal/platform/target"
	"github.com/tunahanbr/willhaben/internal/ratelimit"
	"github.com/tunahanbr/willhaben/internal/store"
)

func TestNextInterval_ActivityBoostShortensInterval(t *testing.T) {
	tgt := &target.PollingTarget{
		BaseInterval: time.Minute, MinInterval: 10 * time.Second, MaxInterval: time.Hour,
		Adaptive:            target.AdaptivePolicy{ActivityBoost: 2, StabilityBonus: 1, ChangeThreshold: 0.5},
		CurrentChangeRate:   1,
		CircuitBreakerState: target.BreakerClosed,
	}
	cfg := config.SchedulerConfig{PeakHourStart: 0, PeakHourEnd: 24}
	noon := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	got := nextInterval(tgt, cfg, noon)
	require.Equal(t, 30*time.Second, got, "activity boost of 2 must halve the base interval")
}

func TestNextInterval_StabilityBonusLengthensQuietTargets(t *testing.T) {
	tgt := &target.PollingTarget{
		BaseInterval: time.Minute, MinInterval: 10 * time.Second, MaxInterval: time.Hour,
		Adaptive:            target.AdaptivePolicy{ActivityBoost: 2, StabilityBonus: 2, ChangeThreshold: 0.5},
		CurrentChangeRate:   0,
		ConsecutiveFailures: 0,
		CircuitBreakerState: target.BreakerClosed,
	}
	cfg := config.SchedulerConfig{PeakHourStart: 0, PeakHourEnd: 24}
	noon := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	got := nextInterval(tgt, cfg, noon)
	require.Equal(t, 2*time.Minute, got)
}

func TestNextInterval_OffPeakAndOpenBreakerCompound(t *testing.T) {
	tgt := &target.PollingTarget{
		BaseInterval: time.Minute, MinInterval: time.Second, MaxInterval: time.Hour,
		Adaptive:            target.AdaptivePolicy{ActivityBoost: 1, StabilityBonus: 1, ChangeThreshold: 10},
		CurrentChangeRate:   0,
		ConsecutiveFailures: 1, // disqualifies the stability-bonus branch, falls through to base
		CircuitBreakerState: target.BreakerOpen,
	}
	cfg := config.SchedulerConfig{PeakHourStart: 8, PeakHourEnd: 20}
	midnight := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := nextInterval(tgt, cfg, midnight)
	// base(60s) * offPeak(1.5) * breakerOpen(2) = 180s
	require.Equal(t, 180*time.Second, got)
}

func TestNextInterval_ClampsToBounds(t *testing.T) {
	tgt := &target.PollingTarget{
		BaseInterval: time.Hour, MinInterval: time.Minute, MaxInterval: 90 * time.Minute,
		Adaptive:            target.AdaptivePolicy{ActivityBoost: 100, StabilityBonus: 1, ChangeThreshold: 0.1},
		CurrentChangeRate:   1,
		CircuitBreakerState: target.BreakerClosed,
	}
	cfg := config.SchedulerConfig{PeakHourStart: 0, PeakHourEnd: 24}
	noon := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	got := nextInterval(tgt, cfg, noon)
	require.Equal(t, tgt.MinInterval, got, "a huge activity boost must still clamp to minInterval")
}

func TestNextInterval_OffPeakUsesConfiguredPeakMultiplier(t *testing.T) {
	tgt := &target.PollingTarget{
		BaseInterval: time.Minute, MinInterval: time.Second, MaxInterval: time.Hour,
		Adaptive:            target.AdaptivePolicy{ActivityBoost: 1, StabilityBonus: 1, ChangeThreshold: 10, PeakMultiplier: 3},
		CurrentChangeRate:   0,
		ConsecutiveFailures: 1,
		CircuitBreakerState: target.BreakerClosed,
	}
	cfg := config.SchedulerConfig{PeakHourStart: 8, PeakHourEnd: 20}
	midnight := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := nextInterval(tgt, cfg, midnight)
	require.Equal(t, 3*time.Minute, got, "a configured peakMultiplier of 3 must replace the 1.5 default")
}

func TestInPeakHours_WrapsPastMidnight(t *testing.T) {
	require.True(t, inPeakHours(time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC), 22, 6))
	require.True(t, inPeakHours(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC), 22, 6))
	require.False(t, inPeakHours(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), 22, 6))
}

func TestFirstPageChanged_NoPriorSnapshotAlwaysProceeds(t *testing.T) {
	tgt := &target.PollingTarget{}
	page := &fetch.Result{Listings: []fetch.ScrapedListing{{ID: "a"}}}
	require.True(t, firstPageChanged(tgt, page))
}

func TestFirstPageChanged_ExactSetEqualityIgnoresOrder(t *testing.T) {
	tgt := &target.PollingTarget{
		LastPolledAt:     time.Now().Add(-time.Minute),
		LastFirstPageIDs: []string{"a", "b", "c"},
	}
	page := &fetch.Result{Listings: []fetch.ScrapedListing{{ID: "c"}, {ID: "a"}, {ID: "b"}}}
	require.False(t, firstPageChanged(tgt, page), "a reordered-but-identical ID set must not count as changed")
}

func TestFirstPageChanged_DetectsAddedOrRemovedID(t *testing.T) {
	tgt := &target.PollingTarget{
		LastPolledAt:     time.Now().Add(-time.Minute),
		LastFirstPageIDs: []string{"a", "b"},
	}
	page := &fetch.Result{Listings: []fetch.ScrapedListing{{ID: "a"}, {ID: "c"}}}
	require.True(t, firstPageChanged(tgt, page))
}

func TestTargetGracePeriod_FallsBackToDoubleBaseInterval(t *testing.T) {
	tgt := &target.PollingTarget{BaseInterval: 5 * time.Minute}
	require.Equal(t, 10*time.Minute, targetGracePeriod(tgt))

	tgt.GracePeriod = time.Hour
	require.Equal(t, time.Hour, targetGracePeriod(tgt))
}

// fakeFetcher returns a fixed set of listings regardless of the target or
// full flag, enough to drive one poll cycle through Scheduler.poll.
type fakeFetcher struct {
	listings []fetch.ScrapedListing
}

func (f *fakeFetcher) Fetch(ctx context.Context, t *target.PollingTarget, full bool) (*fetch.Result, error) {
	return &fetch.Result{Listings: f.listings, TotalListings: len(f.listings), ScrapedAt: time.Now(), Source: t.Source}, nil
}

// countingFetcher tracks how many full=true fetches it served, so tests can
// assert the first-page fast path actually skipped the full fetch.
type countingFetcher struct {
	listings  []fetch.ScrapedListing
	fullCalls int
}

func (f *countingFetcher) Fetch(ctx context.Context, t *target.PollingTarget, full bool) (*fetch.Result, error) {
	if full {
		f.fullCalls++
	}
	return &fetch.Result{Listings: f.listings, TotalListings: len(f.listings), ScrapedAt: time.Now(), Source: t.Source}, nil
}

func TestFetchWithFirstPageFastPath_SkipsFullFetchWhenUnchanged(t *testing.T) {
	fetcher := &countingFetcher{listings: []fetch.ScrapedListing{{ID: "a"}, {ID: "b"}}}
	sched := &Scheduler{fetcher: fetcher, breakers: breaker.NewRegistry(breaker.DefaultSettings(), nil)}
	tgt := &target.PollingTarget{
		ID:               "fast-path-1",
		LastPolledAt:     time.Now().Add(-time.Minute),
		LastFirstPageIDs: []string{"a", "b"},
	}

	result, full, err := sched.fetchWithFirstPageFastPath(context.Background(), tgt)
	require.NoError(t, err)
	require.False(t, full)
	require.Equal(t, fetcher.listings, result.Listings)
	require.Equal(t, 0, fetcher.fullCalls, "an unchanged first page must never trigger a full fetch")
	require.Equal(t, []string{"a", "b"}, tgt.LastFirstPageIDs)
}

func TestFetchWithFirstPageFastPath_FullFetchWhenChanged(t *testing.T) {
	fetcher := &countingFetcher{listings: []fetch.ScrapedListing{{ID: "a"}, {ID: "c"}}}
	sched := &Scheduler{fetcher: fetcher, breakers: breaker.NewRegistry(breaker.DefaultSettings(), nil)}
	tgt := &target.PollingTarget{
		ID:               "fast-path-2",
		LastPolledAt:     time.Now().Add(-time.Minute),
		LastFirstPageIDs: []string{"a", "b"},
	}

	_, full, err := sched.fetchWithFirstPageFastPath(context.Background(), tgt)
	require.NoError(t, err)
	require.True(t, full)
	require.Equal(t, 1, fetcher.fullCalls)
	require.Equal(t, []string{"a", "c"}, tgt.LastFirstPageIDs)
}

func TestScheduler_PollTask_FirstSightingCreatesListingAndEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in -short mode")
	}
	ctx := context.Background()

	mongoCtr, err := tcmongodb.Run(ctx, "mongo:7", tcmongodb.WithReplicaSet("rs0"))
	require.NoError(t, err)
	defer func() { _ = testcontainers.TerminateContainer(mongoCtr) }()
	uri, err := mongoCtr.ConnectionString(ctx)
	require.NoError(t, err)
	mongoClient, err := commonmongo.Connect(ctx, config.MongoDBConfig{URI: uri, Database: "listingwatch_scheduler_test"})
	require.NoError(t, err)
	defer func() { _ = mongoClient.Disconnect(ctx) }()

	redisCtr, err := tcredis.Run(ctx, "redis:7")
	require.NoError(t, err)
	defer func() { _ = testcontainers.TerminateContainer(redisCtr) }()
	redisURI, err := redisCtr.ConnectionString(ctx)
	require.NoError(t, err)
	redisOpts, err := redis.ParseURL(redisURI)
	require.NoError(t, err)
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	st, err := store.New(ctx, mongoClient, redisClient, t.TempDir())
	require.NoError(t, err)

	tgt := &target.PollingTarget{
		ID: "t-sched-1", Source: "example", Domain: "example.com", Enabled: true,
		BaseInterval: time.Minute, MinInterval: 10 * time.Second, MaxInterval: time.Hour,
		Adaptive:      target.AdaptivePolicy{ActivityBoost: 2, StabilityBonus: 0.8, ChangeThreshold: 0.5},
		RateLimit:     target.RateLimitPolicy{PerMinute: 60, PerHour: 1000, Burst: 10},
		TrackedFields: []string{"title", "price", "condition", "location"},
	}
	require.NoError(t, st.UpsertTarget(ctx, tgt))

	fetcher := &fakeFetcher{listings: []fetch.ScrapedListing{
		{ID: "a", URL: "https://example.com/a", Fields: map[string]any{"title": "X", "price": 100.0}},
	}}

	sched := New(config.SchedulerConfig{PollDeadline: 10 * time.Second}, st, fetcher, ratelimit.New(redisClient), breaker.NewRegistry(breaker.DefaultSettings(), nil))
	sched.ctx = ctx

	result := sched.poll(ctx, tgt)
	require.Equal(t, "success", result)

	listings, err := st.ListListings(ctx, "example")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, int64(1), listings[0].Version)

	events, err := st.ClaimPendingEvents(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "CREATED", string(events[0].EventType))
}
