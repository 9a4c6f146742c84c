// Package scheduler drives poll tasks against enabled polling targets: a
// ready queue feeding a bounded pool of concurrent poll tasks, an adaptive
// per-target interval, a daily reconciliation sweep, and a watchdog that
// frees concurrency slots abandoned by stuck tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"log/slog"

	"github.com/tunahanbr/willhaben/internal/breaker"
	"github.com/tunahanbr/willhaben/internal/common/metrics"
	"github.com/tunahanbr/willhaben/internal/config"
	"github.com/tunahanbr/willhaben/internal/diff"
	"github.com/tunahanbr/willhaben/internal/engineerr"
	"github.com/tunahanbr/willhaben/internal/fetch"
	"github.com/tunahanbr/willhaben/internal/platform/target"
	"github.com/tunahanbr/willhaben/internal/ratelimit"
	"github.com/tunahanbr/willhaben/internal/store"
)

// Scheduler polls enabled targets on an adaptive schedule and reconciles
// their fetched listings into Store via DiffEngine.
type Scheduler struct {
	cfg      config.SchedulerConfig
	store    *store.Store
	fetcher  fetch.Fetcher
	limiter  *ratelimit.Limiter
	breakers *breaker.Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]time.Time // targetID -> poll task start time
	ready  []*target.PollingTarget
	queued map[string]struct{}

	runningMu sync.Mutex
	running   bool
}

// New builds a Scheduler over the given Fetcher, RateLimiter, and
// CircuitBreaker registry. The registry's onChange callback, if any, should
// persist breaker transitions onto PollingTarget.CircuitBreakerState.
func New(cfg config.SchedulerConfig, st *store.Store, fetcher fetch.Fetcher, limiter *ratelimit.Limiter, breakers *breaker.Registry) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		fetcher:  fetcher,
		limiter:  limiter,
		breakers: breakers,
		active:   make(map[string]time.Time),
		queued:   make(map[string]struct{}),
	}
}

func (s *Scheduler) Name() string { return "scheduler" }

// Start implements lifecycle.Service: it blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	s.runningMu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(3)
	go s.pollLoop()
	go s.reconcileLoop()
	go s.watchdogLoop()

	slog.Info("scheduler started", "pollInterval", s.cfg.PollInterval, "maxConcurrentPolls", s.cfg.MaxConcurrentPolls)

	<-s.ctx.Done()
	return nil
}

// Stop implements lifecycle.Service: it stops the timers and waits up to
// DrainDeadline for in-flight poll tasks before giving up on them.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return nil
	}
	s.running = false
	s.runningMu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.DrainDeadline):
		slog.Warn("scheduler drain deadline exceeded; abandoning in-flight poll tasks")
		return nil
	}
}

// Health reports unhealthy only while the scheduler isn't running; poll
// failures are handled per-target via the circuit breaker, not surfaced here.
func (s *Scheduler) Health() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if !s.running {
		return errors.New("scheduler not running")
	}
	return nil
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick implements one scheduling pass: load targets, filter to due ones,
// enqueue idempotently, then drain the ready queue into poll tasks while
// capacity remains.
func (s *Scheduler) tick() {
	targets, err := s.store.EnabledTargets(s.ctx)
	if err != nil {
		slog.Error("scheduler: failed to load targets", "error", err)
		return
	}

	now := time.Now()
	s.mu.Lock()
	for _, t := range targets {
		if _, inActive := s.active[t.ID]; inActive {
			continue
		}
		if _, inQueue := s.queued[t.ID]; inQueue {
			continue
		}
		if s.breakers.State(t.ID) == breaker.StateOpen {
			continue
		}
		if now.Before(t.NextPollAt) {
			continue
		}
		if now.Sub(t.LastPolledAt) < nextInterval(t, s.cfg, now) && !t.LastPolledAt.IsZero() {
			continue
		}
		s.ready = append(s.ready, t)
		s.queued[t.ID] = struct{}{}
	}
	metrics.SchedulerReadyQueueDepth.Set(float64(len(s.ready)))

	var toSpawn []*target.PollingTarget
	for len(s.active) < s.cfg.MaxConcurrentPolls && len(s.ready) > 0 {
		t := s.ready[0]
		s.ready = s.ready[1:]
		delete(s.queued, t.ID)
		s.active[t.ID] = time.Now()
		toSpawn = append(toSpawn, t)
	}
	metrics.SchedulerActivePolls.Set(float64(len(s.active)))
	s.mu.Unlock()

	for _, t := range toSpawn {
		s.wg.Add(1)
		go func(t *target.PollingTarget) {
			defer s.wg.Done()
			defer s.releaseSlot(t.ID)
			s.runPollTask(t)
		}(t)
	}
}

func (s *Scheduler) releaseSlot(targetID string) {
	s.mu.Lock()
	delete(s.active, targetID)
	metrics.SchedulerActivePolls.Set(float64(len(s.active)))
	s.mu.Unlock()
}

// runPollTask executes a single target's poll cycle end to end, recovering
// from panics so one misbehaving target never brings down the scheduler.
func (s *Scheduler) runPollTask(t *target.PollingTarget) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler: poll task panicked", "target", t.ID, "panic", r)
			metrics.SchedulerPollsCompleted.WithLabelValues(t.Source, "panic").Inc()
		}
	}()

	start := time.Now()
	metrics.SchedulerPollsStarted.WithLabelValues(t.Source).Inc()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PollDeadline)
	defer cancel()

	result := s.poll(ctx, t)

	metrics.SchedulerPollDuration.WithLabelValues(t.Source).Observe(time.Since(start).Seconds())
	metrics.SchedulerPollsCompleted.WithLabelValues(t.Source, result).Inc()
}

// poll implements one poll task per spec.md §4.5, returning a result label
// for metrics. Failures are classified and handled inline, since the
// scheduling loop has nothing further to do with the error itself.
func (s *Scheduler) poll(ctx context.Context, t *target.PollingTarget) string {
	allowed, release, retryAfter, err := s.limiter.Allow(ctx, t.Domain, t.RateLimit)
	if err != nil {
		slog.Error("scheduler: rate limiter error", "target", t.ID, "error", err)
		return "rate_limiter_error"
	}
	if !allowed {
		// Transient, not a circuit breaker failure: reschedule at
		// now+retryAfter without touching lastPolledAt or consecutiveFailures.
		t.NextPollAt = time.Now().Add(retryAfter)
		if err := s.store.UpsertTarget(ctx, t); err != nil {
			slog.Error("scheduler: failed to persist rate-limit deferral", "target", t.ID, "error", err)
		}
		return "rate_limited"
	}

	// The burst slot is held for exactly the duration of the outbound
	// fetch(es), then released before reconciliation and persistence.
	result, full, err := s.fetchWithFirstPageFastPath(ctx, t)
	release()
	if err != nil {
		return s.handlePollFailure(ctx, t, err)
	}

	changed, err := s.reconcile(ctx, t, result, full)
	if err != nil {
		return s.handlePollFailure(ctx, t, &engineerr.StoreError{Operation: "commitPollOutcome", Cause: err})
	}

	now := time.Now()
	t.LastPolledAt = now
	t.LastSuccessAt = now
	t.ConsecutiveFailures = 0
	t.ChangeHistory = append(t.ChangeHistory, target.ChangeSample{At: now, Changed: changed})
	t.TrimChangeHistory(24 * time.Hour)
	t.CurrentChangeRate = t.RecentChangeRate()

	interval := nextInterval(t, s.cfg, now)
	t.CurrentInterval = interval
	t.NextPollAt = now.Add(interval)
	metrics.SchedulerNextInterval.Observe(interval.Seconds())

	if err := s.store.UpsertTarget(ctx, t); err != nil {
		slog.Error("scheduler: failed to persist target after successful poll", "target", t.ID, "error", err)
		return "store_error"
	}
	return "success"
}

// fetchWithFirstPageFastPath implements §4.5 steps 2-3: a first-page probe
// that skips the full fetch when the first page's listing-ID set matches
// the prior snapshot.
func (s *Scheduler) fetchWithFirstPageFastPath(ctx context.Context, t *target.PollingTarget) (*fetch.Result, bool, error) {
	var firstPage *fetch.Result
	err := s.breakers.Execute(ctx, t.ID, func() error {
		r, ferr := s.fetcher.Fetch(ctx, t, false)
		if ferr != nil {
			return ferr
		}
		firstPage = r
		return nil
	})
	if err != nil {
		return nil, false, &engineerr.TransientFetchError{TargetID: t.ID, Cause: err}
	}

	firstPageIDs := listingIDs(firstPage)

	if !firstPageChanged(t, firstPage) {
		t.LastFirstPageIDs = firstPageIDs
		return firstPage, false, nil
	}

	var full *fetch.Result
	err = s.breakers.Execute(ctx, t.ID, func() error {
		r, ferr := s.fetcher.Fetch(ctx, t, true)
		if ferr != nil {
			return ferr
		}
		full = r
		return nil
	})
	if err != nil {
		return nil, false, &engineerr.TransientFetchError{TargetID: t.ID, Cause: err}
	}
	t.LastFirstPageIDs = firstPageIDs
	return full, true, nil
}

// firstPageChanged compares the current first page's listing-ID set against
// t.LastFirstPageIDs, the set persisted from the prior snapshot. A target
// with no prior history, or whose fetch returned nothing, has nothing to
// compare against and always proceeds to a full fetch. The comparison is
// exact set equality, not a weaker prefix equality: a reordered-but-
// unchanged first page must not be mistaken for a changed one.
func firstPageChanged(t *target.PollingTarget, firstPage *fetch.Result) bool {
	if t.LastPolledAt.IsZero() || firstPage == nil || t.LastFirstPageIDs == nil {
		return true
	}
	current := target.FirstPageIDSet(listingIDs(firstPage))
	prior := target.FirstPageIDSet(t.LastFirstPageIDs)
	if len(current) != len(prior) {
		return true
	}
	for id := range current {
		if _, ok := prior[id]; !ok {
			return true
		}
	}
	return false
}

func listingIDs(r *fetch.Result) []string {
	if r == nil {
		return nil
	}
	ids := make([]string, len(r.Listings))
	for i, l := range r.Listings {
		ids[i] = l.ID
	}
	return ids
}

// reconcile loads the canonical listings for the target's source, runs
// DiffEngine against the fetch result, and commits the outcome atomically.
// It returns whether any change was detected, for the target's change-rate
// history.
func (s *Scheduler) reconcile(ctx context.Context, t *target.PollingTarget, result *fetch.Result, full bool) (bool, error) {
	canonical, err := s.store.ListListings(ctx, t.Source)
	if err != nil {
		return false, fmt.Errorf("load canonical listings: %w", err)
	}

	outcome := diff.Compute(diff.Input{
		Source:          t.Source,
		Scraped:         toScrapedListings(result.Listings),
		Canonical:       canonical,
		Full:            full,
		GracePeriod:     targetGracePeriod(t),
		TrackedFields:   t.TrackedFields,
		MinSignificance: t.MinSignificance,
		Now:             time.Now(),
	})

	if err := s.store.CommitPollOutcome(ctx, t, outcome.UpsertListings, outcome.Events); err != nil {
		return false, err
	}
	return len(outcome.Events) > 0, nil
}

func (s *Scheduler) handlePollFailure(ctx context.Context, t *target.PollingTarget, cause error) string {
	var rl *engineerr.RateLimited
	if errors.As(cause, &rl) {
		t.NextPollAt = time.Now().Add(time.Duration(rl.RetryAfter * float64(time.Second)))
		if err := s.store.UpsertTarget(ctx, t); err != nil {
			slog.Error("scheduler: failed to persist rate-limit deferral", "target", t.ID, "error", err)
		}
		return "rate_limited"
	}

	t.ConsecutiveFailures++
	backoff := time.Duration(math.Min(float64(time.Second)*math.Pow(2, math.Min(float64(t.ConsecutiveFailures), 4)), float64(5*time.Minute)))
	t.NextPollAt = time.Now().Add(backoff + nextInterval(t, s.cfg, time.Now()))

	if err := s.store.UpsertTarget(ctx, t); err != nil {
		slog.Error("scheduler: failed to persist failure state", "target", t.ID, "error", err)
	}

	slog.Warn("scheduler: poll task failed", "target", t.ID, "consecutiveFailures", t.ConsecutiveFailures, "error", cause)
	return "transient_error"
}

// reconcileLoop runs the full-scrape reconciliation sweep once per
// ReconcileInterval, forcing a fresh full fetch of every enabled target. The
// sweep's fetches bypass the circuit breaker: OPEN targets are fetched too,
// and no breaker's state is changed by the sweep.
func (s *Scheduler) reconcileLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reconcileSweep()
		}
	}
}

func (s *Scheduler) reconcileSweep() {
	targets, err := s.store.EnabledTargets(s.ctx)
	if err != nil {
		slog.Error("scheduler: reconciliation sweep failed to load targets", "error", err)
		return
	}

	slog.Info("scheduler: starting reconciliation sweep", "targetCount", len(targets))
	for _, t := range targets {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PollDeadline)
		result, err := s.fetcher.Fetch(ctx, t, true)
		if err != nil {
			slog.Warn("scheduler: reconciliation fetch failed", "target", t.ID, "error", err)
			cancel()
			continue
		}
		if _, err := s.reconcile(ctx, t, result, true); err != nil {
			slog.Error("scheduler: reconciliation commit failed", "target", t.ID, "error", err)
		}
		cancel()
	}
}

// ForcePoll runs a single poll task for t immediately, outside the
// ready-queue's due-target filter, for admin-triggered polls. It still
// respects the rate limiter and the target's circuit breaker.
func (s *Scheduler) ForcePoll(ctx context.Context, t *target.PollingTarget) error {
	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollDeadline)
	defer cancel()
	result := s.poll(pollCtx, t)
	if result != "success" {
		return fmt.Errorf("scheduler: forced poll for target %s returned %s", t.ID, result)
	}
	return nil
}

// ForceReconcile runs the reconciliation sweep immediately rather than
// waiting for the next ReconcileInterval tick.
func (s *Scheduler) ForceReconcile(ctx context.Context) error {
	s.reconcileSweep()
	return nil
}

// watchdogLoop evicts targets whose poll task has been active longer than
// WatchdogCeiling, freeing a concurrency slot. The evicted task may still
// complete and write its result; the watchdog only frees the slot.
func (s *Scheduler) watchdogLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.watchdogSweep()
		}
	}
}

func (s *Scheduler) watchdogSweep() {
	now := time.Now()
	s.mu.Lock()
	var evicted []string
	for id, startedAt := range s.active {
		if now.Sub(startedAt) > s.cfg.WatchdogCeiling {
			evicted = append(evicted, id)
			delete(s.active, id)
		}
	}
	metrics.SchedulerActivePolls.Set(float64(len(s.active)))
	s.mu.Unlock()

	for _, id := range evicted {
		metrics.SchedulerWatchdogEvictions.Inc()
		slog.Warn("scheduler: watchdog evicted stale active poll slot", "target", id, "ceiling", s.cfg.WatchdogCeiling)
	}
}

// nextInterval implements spec.md §4.5's adaptive interval function.
func nextInterval(t *target.PollingTarget, cfg config.SchedulerConfig, now time.Time) time.Duration {
	base := t.BaseInterval
	r := t.CurrentChangeRate

	var interval time.Duration
	switch {
	case r > t.Adaptive.ChangeThreshold:
		interval = durationMax(t.MinInterval, scaleDuration(base, 1/t.Adaptive.ActivityBoost))
	case r == 0 && t.ConsecutiveFailures == 0:
		interval = durationMin(t.MaxInterval, scaleDuration(base, t.Adaptive.StabilityBonus))
	default:
		interval = base
	}

	if !inPeakHours(now, cfg.PeakHourStart, cfg.PeakHourEnd) {
		interval = durationMin(t.MaxInterval, scaleDuration(interval, peakMultiplier(t)))
	}
	if t.CircuitBreakerState == target.BreakerOpen {
		interval = durationMin(t.MaxInterval, scaleDuration(interval, 2))
	}

	return clampDuration(interval, t.MinInterval, t.MaxInterval)
}

// defaultPeakMultiplier is used when a target has no explicit
// adaptivePolicy.peakMultiplier configured.
const defaultPeakMultiplier = 1.5

func peakMultiplier(t *target.PollingTarget) float64 {
	if t.Adaptive.PeakMultiplier > 0 {
		return t.Adaptive.PeakMultiplier
	}
	return defaultPeakMultiplier
}

func inPeakHours(now time.Time, start, end int) bool {
	h := now.Hour()
	if start <= end {
		return h >= start && h < end
	}
	return h >= start || h < end // wraps past midnight
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

func durationMin(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func durationMax(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func clampDuration(d, minD, maxD time.Duration) time.Duration {
	if d < minD {
		return minD
	}
	if d > maxD {
		return maxD
	}
	return d
}

func targetGracePeriod(t *target.PollingTarget) time.Duration {
	if t.GracePeriod > 0 {
		return t.GracePeriod
	}
	return 2 * t.BaseInterval
}

func toScrapedListings(ls []fetch.ScrapedListing) []diff.ScrapedListing {
	out := make([]diff.ScrapedListing, len(ls))
	for i, l := range ls {
		out[i] = diff.ScrapedListing{ID: l.ID, URL: l.URL, Fields: l.Fields, ImageURLs: l.ImageURLs, Raw: l.Raw}
	}
	return out
}
