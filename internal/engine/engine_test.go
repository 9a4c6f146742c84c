package engine

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongodb "github.com/testcontainers/testcontainers-go/modules/mongodb"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	commonmongo "github.com/tunahanbr/willhaben/internal/common/mongo"
	"github.com/tunahanbr/willhaben/internal/config"
	"github.com/tunahanbr/willhaben/internal/fetch"
	"github.com/tunahanbr/willhaben/internal/platform/subscriber"
	"github.com/tunahanbr/willhaben/internal/platform/target"
)

// fakeFetcher returns a fixed, empty listing set; engine tests exercise the
// admin API and wiring, not poll outcomes.
type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, t *target.PollingTarget, full bool) (*fetch.Result, error) {
	return &fetch.Result{Source: t.Source, ScrapedAt: time.Now()}, nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in -short mode")
	}
	ctx := context.Background()

	mongoCtr, err := tcmongodb.Run(ctx, "mongo:7", tcmongodb.WithReplicaSet("rs0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(mongoCtr) })
	uri, err := mongoCtr.ConnectionString(ctx)
	require.NoError(t, err)

	redisCtr, err := tcredis.Run(ctx, "redis:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(redisCtr) })
	redisURI, err := redisCtr.ConnectionString(ctx)
	require.NoError(t, err)
	redisOpts, err := redis.ParseURL(redisURI)
	require.NoError(t, err)
	redisHost, redisPortStr, err := net.SplitHostPort(redisOpts.Addr)
	require.NoError(t, err)
	redisPort, err := strconv.Atoi(redisPortStr)
	require.NoError(t, err)

	cfg := &config.Config{
		MongoDB: config.MongoDBConfig{URI: uri, Database: "listingwatch_engine_test"},
		Redis:   config.RedisConfig{Host: redisHost, Port: redisPort},
		Store:   config.StoreConfig{JournalDir: t.TempDir()},
		Scheduler: config.SchedulerConfig{
			MaxConcurrentPolls: 2, PollInterval: time.Second, ReconcileInterval: time.Hour,
			WatchdogInterval: time.Second, WatchdogCeiling: time.Minute, DrainDeadline: 5 * time.Second,
			RequestTimeout: 5 * time.Second, PollDeadline: 10 * time.Second,
			PeakHourStart: 8, PeakHourEnd: 20,
		},
		Dispatcher: config.DispatcherConfig{
			ProcessingInterval: time.Second, BatchSize: 10, LeaseDuration: time.Minute,
			MaxRetries: 3, DeliveryTimeout: 5 * time.Second, Shards: 2,
		},
		Webhook: config.WebhookConfig{Secret: "test-secret"},
	}

	eng, err := New(ctx, cfg, fakeFetcher{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng
}

func validTarget(id string) *target.PollingTarget {
	return &target.PollingTarget{
		ID: id, Source: "example", Domain: "example.marketplace", Enabled: true,
		BaseInterval: time.Minute, MinInterval: 30 * time.Second, MaxInterval: 10 * time.Minute,
		Adaptive: target.AdaptivePolicy{StabilityBonus: 1},
		TrackedFields: []string{"price"},
	}
}

func TestEngine_TargetCRUD(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	tgt := validTarget("t-1")
	require.NoError(t, eng.CreateTarget(ctx, tgt))

	targets, err := eng.ListTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)

	tgt.BaseInterval = 2 * time.Minute
	require.NoError(t, eng.UpdateTarget(ctx, tgt))

	require.NoError(t, eng.DeleteTarget(ctx, "t-1"))
	targets, err = eng.ListTargets(ctx)
	require.NoError(t, err)
	require.Empty(t, targets)
}

func TestEngine_CreateTarget_RejectsInvalidPolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	tgt := validTarget("t-bad")
	tgt.MinInterval = time.Hour // now MinInterval > MaxInterval, invalid

	err := eng.CreateTarget(ctx, tgt)
	require.Error(t, err)
}

func TestEngine_SubscriberCRUD(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	sub := &subscriber.Subscriber{
		ID: "s-1", Type: subscriber.TypeWebhook, Enabled: true,
		Webhook: subscriber.WebhookConfig{URL: "https://example.test/hook"},
	}
	require.NoError(t, eng.CreateSubscriber(ctx, sub))

	subs, err := eng.ListSubscribers(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	require.NoError(t, eng.DeleteSubscriber(ctx, "s-1"))
	subs, err = eng.ListSubscribers(ctx)
	require.NoError(t, err)
	require.Empty(t, subs)
}

func TestEngine_CreateSubscriber_RejectsMissingWebhookURL(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	sub := &subscriber.Subscriber{ID: "s-bad", Type: subscriber.TypeWebhook, Enabled: true}
	err := eng.CreateSubscriber(ctx, sub)
	require.Error(t, err)
}

func TestEngine_ForcePoll_UnknownTargetFails(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.ForcePoll(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestEngine_ForcePoll_RunsImmediately(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	tgt := validTarget("t-force")
	tgt.RateLimit = target.RateLimitPolicy{PerMinute: 60, PerHour: 1000, Burst: 10}
	require.NoError(t, eng.CreateTarget(ctx, tgt))

	require.NoError(t, eng.ForcePoll(ctx, "t-force"))
}

func TestEngine_Status_ReportsHealthAndCounts(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CreateTarget(ctx, validTarget("t-status")))

	status := eng.Status(ctx)
	require.True(t, status.StoreHealthy)
	require.Equal(t, 1, status.EnabledTargets)
}
