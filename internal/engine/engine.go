// Package engine wires the listing change-detection components (Store,
// RateLimiter, CircuitBreaker registry, DiffEngine, Scheduler, Dispatcher)
// into a single value and exposes the admin operations a host process runs
// against it: target/subscriber CRUD, forced poll/reconcile, and status.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tunahanbr/willhaben/internal/breaker"
	"github.com/tunahanbr/willhaben/internal/common/lifecycle"
	commonmongo "github.com/tunahanbr/willhaben/internal/common/mongo"
	"github.com/tunahanbr/willhaben/internal/config"
	"github.com/tunahanbr/willhaben/internal/dispatcher"
	"github.com/tunahanbr/willhaben/internal/engineerr"
	"github.com/tunahanbr/willhaben/internal/fetch"
	"github.com/tunahanbr/willhaben/internal/platform/subscriber"
	"github.com/tunahanbr/willhaben/internal/platform/target"
	"github.com/tunahanbr/willhaben/internal/ratelimit"
	"github.com/tunahanbr/willhaben/internal/scheduler"
	"github.com/tunahanbr/willhaben/internal/store"
)

// Engine is the single value holding every component; no package-level
// singletons or global maps are permitted, everything hangs off this.
type Engine struct {
	cfg        *config.Config
	mongo      *commonmongo.Client
	redis      *redis.Client
	Store      *store.Store
	RateLimit  *ratelimit.Limiter
	Breakers   *breaker.Registry
	Scheduler  *scheduler.Scheduler
	Dispatcher *dispatcher.Dispatcher
}

// New constructs an Engine from a loaded config and a Fetcher implementation
// (the caller selects the concrete fetch.Fetcher for its source sites).
func New(ctx context.Context, cfg *config.Config, fetcher fetch.Fetcher) (*Engine, error) {
	mongoClient, err := commonmongo.Connect(ctx, cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("engine: connect mongo: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("engine: connect redis: %w", err)
	}

	st, err := store.New(ctx, mongoClient, redisClient, cfg.Store.JournalDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	limiter := ratelimit.New(redisClient)

	e := &Engine{cfg: cfg, mongo: mongoClient, redis: redisClient, Store: st, RateLimit: limiter}

	e.Breakers = breaker.NewRegistry(breaker.DefaultSettings(), e.onBreakerStateChange)
	e.Scheduler = scheduler.New(cfg.Scheduler, st, fetcher, limiter, e.Breakers)
	e.Dispatcher = dispatcher.New(cfg.Dispatcher, cfg.Webhook.Secret, st)

	return e, nil
}

// Services returns the lifecycle.Service set a host process supervises.
func (e *Engine) Services() []lifecycle.Service {
	return []lifecycle.Service{e.Scheduler, e.Dispatcher}
}

// Close releases the underlying Mongo and Redis connections. Call after
// every Service has stopped.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.redis.Close(); err != nil {
		return err
	}
	return e.mongo.Disconnect(ctx)
}

// onBreakerStateChange persists an observed breaker transition onto the
// owning target so the scheduler's due-target filter and adaptive interval
// see it on their next tick.
func (e *Engine) onBreakerStateChange(targetID string, from, to breaker.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t, err := e.Store.GetTarget(ctx, targetID)
	if err != nil || t == nil {
		return
	}
	switch to {
	case breaker.StateOpen:
		t.CircuitBreakerState = target.BreakerOpen
	case breaker.StateHalfOpen:
		t.CircuitBreakerState = target.BreakerHalfOpen
	default:
		t.CircuitBreakerState = target.BreakerClosed
	}
	_ = e.Store.UpsertTarget(ctx, t)
}

// CreateTarget validates and registers a new polling target.
func (e *Engine) CreateTarget(ctx context.Context, t *target.PollingTarget) error {
	if err := t.Validate(); err != nil {
		return &engineerr.ConfigError{Field: "target", Reason: err.Error()}
	}
	return e.Store.UpsertTarget(ctx, t)
}

// UpdateTarget validates and persists changes to an existing target.
func (e *Engine) UpdateTarget(ctx context.Context, t *target.PollingTarget) error {
	if err := t.Validate(); err != nil {
		return &engineerr.ConfigError{Field: "target", Reason: err.Error()}
	}
	return e.Store.UpsertTarget(ctx, t)
}

// DeleteTarget removes a polling target from rotation.
func (e *Engine) DeleteTarget(ctx context.Context, id string) error {
	return e.Store.DeleteTarget(ctx, id)
}

// ListTargets returns every registered polling target.
func (e *Engine) ListTargets(ctx context.Context) ([]*target.PollingTarget, error) {
	return e.Store.ListTargets(ctx)
}

// CreateSubscriber registers a new delivery subscriber.
func (e *Engine) CreateSubscriber(ctx context.Context, s *subscriber.Subscriber) error {
	if s.Type == subscriber.TypeWebhook && s.Webhook.URL == "" {
		return &engineerr.ConfigError{Field: "webhook.url", Reason: "required for WEBHOOK subscribers"}
	}
	return e.Store.UpsertSubscriber(ctx, s)
}

// UpdateSubscriber persists changes to an existing subscriber.
func (e *Engine) UpdateSubscriber(ctx context.Context, s *subscriber.Subscriber) error {
	if s.Type == subscriber.TypeWebhook && s.Webhook.URL == "" {
		return &engineerr.ConfigError{Field: "webhook.url", Reason: "required for WEBHOOK subscribers"}
	}
	return e.Store.UpsertSubscriber(ctx, s)
}

// DeleteSubscriber removes a subscriber from delivery rotation.
func (e *Engine) DeleteSubscriber(ctx context.Context, id string) error {
	return e.Store.DeleteSubscriber(ctx, id)
}

// ListSubscribers returns every registered subscriber.
func (e *Engine) ListSubscribers(ctx context.Context) ([]*subscriber.Subscriber, error) {
	return e.Store.ListSubscribers(ctx)
}

// ForcePoll runs a single poll task for targetID outside its schedule,
// bypassing the ready-queue's due-target filter but not the breaker or
// rate limiter.
func (e *Engine) ForcePoll(ctx context.Context, targetID string) error {
	t, err := e.Store.GetTarget(ctx, targetID)
	if err != nil {
		return err
	}
	if t == nil {
		return &engineerr.ConfigError{Field: "targetId", Reason: "not found"}
	}
	return e.Scheduler.ForcePoll(ctx, t)
}

// ForceReconcile runs the full reconciliation sweep immediately rather than
// waiting for its next scheduled run.
func (e *Engine) ForceReconcile(ctx context.Context) error {
	return e.Scheduler.ForceReconcile(ctx)
}

// Status summarizes engine health for the admin status endpoint.
type Status struct {
	StoreHealthy      bool
	SchedulerHealthy  bool
	DispatcherHealthy bool
	EnabledTargets    int
	EnabledSubs       int
}

// Status reports the current health and size of the engine's moving parts.
func (e *Engine) Status(ctx context.Context) Status {
	var s Status
	s.StoreHealthy = e.Store.Ping(ctx) == nil
	s.SchedulerHealthy = e.Scheduler.Health() == nil
	s.DispatcherHealthy = e.Dispatcher.Health() == nil

	if targets, err := e.Store.EnabledTargets(ctx); err == nil {
		s.EnabledTargets = len(targets)
	}
	if subs, err := e.Store.EnabledSubscribers(ctx); err == nil {
		s.EnabledSubs = len(subs)
	}
	return s
}
