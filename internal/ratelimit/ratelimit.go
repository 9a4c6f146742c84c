// Package ratelimit enforces per-domain polling budgets: sliding-window
// per-minute/per-hour counters backed by Redis sorted sets, plus a
// short-term burst semaphore held for the duration of an outbound fetch.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tunahanbr/willhaben/internal/common/metrics"
	"github.com/tunahanbr/willhaben/internal/platform/target"
)

// Limiter enforces per-domain minute/hour/burst budgets.
type Limiter struct {
	client *redis.Client

	mu    sync.Mutex
	burst map[string]chan struct{} // keyed by domain; semaphore sized to policy.burst
}

// New creates a Limiter backed by the given Redis client.
func New(client *redis.Client) *Limiter {
	return &Limiter{client: client, burst: make(map[string]chan struct{})}
}

// Release returns a burst slot to its domain's semaphore. Callers obtain
// one from a successful Allow and must call it exactly once, when the
// outbound request it admitted has completed.
type Release func()

// Allow checks all three counters for domain against policy. On admission
// it also acquires one slot of the domain's burst semaphore, returned as
// release, which the caller must hold for exactly the duration of the
// outbound request it is admitting and then call. On denial it returns the
// soonest time a slot frees, computed from whichever counter is over
// budget; release is nil.
func (l *Limiter) Allow(ctx context.Context, domain string, policy target.RateLimitPolicy) (allowed bool, release Release, retryAfter time.Duration, err error) {
	now := time.Now()

	minuteKey := fmt.Sprintf("ratelimit:%s:minute", domain)
	hourKey := fmt.Sprintf("ratelimit:%s:hour", domain)

	minuteCount, minuteOldest, err := l.slidingWindowCount(ctx, minuteKey, now, time.Minute)
	if err != nil {
		return false, nil, 0, err
	}
	if minuteCount >= policy.PerMinute {
		metrics.RateLimitAllowed.WithLabelValues(domain, "denied").Inc()
		retryAfter := time.Minute - now.Sub(minuteOldest)
		metrics.RateLimitRetryAfter.Observe(retryAfter.Seconds())
		return false, nil, retryAfter, nil
	}

	hourCount, hourOldest, err := l.slidingWindowCount(ctx, hourKey, now, time.Hour)
	if err != nil {
		return false, nil, 0, err
	}
	if hourCount >= policy.PerHour {
		metrics.RateLimitAllowed.WithLabelValues(domain, "denied").Inc()
		retryAfter := time.Hour - now.Sub(hourOldest)
		metrics.RateLimitRetryAfter.Observe(retryAfter.Seconds())
		return false, nil, retryAfter, nil
	}

	sem := l.burstSemaphore(domain, policy.Burst)
	select {
	case sem <- struct{}{}:
	default:
		metrics.RateLimitAllowed.WithLabelValues(domain, "denied").Inc()
		return false, nil, time.Second, nil
	}

	if err := l.record(ctx, minuteKey, now, time.Minute); err != nil {
		<-sem
		return false, nil, 0, err
	}
	if err := l.record(ctx, hourKey, now, time.Hour); err != nil {
		<-sem
		return false, nil, 0, err
	}

	metrics.RateLimitAllowed.WithLabelValues(domain, "allowed").Inc()
	var once sync.Once
	return true, func() { once.Do(func() { <-sem }) }, 0, nil
}

// burstSemaphore returns (creating if necessary) the counting semaphore for
// a domain, sized to the target's burst policy. Resizing drops the old
// channel; slots already held against it are released into a channel
// nobody is waiting on, which is harmless since it is simply discarded
// once drained.
func (l *Limiter) burstSemaphore(domain string, burst int) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.burst[domain]
	if !ok || cap(sem) != burst {
		sem = make(chan struct{}, burst)
		l.burst[domain] = sem
	}
	return sem
}

// slidingWindowCount trims entries outside the window and returns the
// remaining count plus the oldest surviving member's timestamp.
func (l *Limiter) slidingWindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int, time.Time, error) {
	cutoff := now.Add(-window)
	if err := l.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixNano())).Err(); err != nil {
		return 0, now, err
	}

	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, now, err
	}

	if count == 0 {
		return 0, now, nil
	}

	oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return int(count), now, err
	}
	return int(count), time.Unix(0, int64(oldest[0].Score)), nil
}

func (l *Limiter) record(ctx context.Context, key string, now time.Time, window time.Duration) error {
	member := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond())
	if err := l.client.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		return err
	}
	return l.client.Expire(ctx, key, window+time.Second).Err()
}
