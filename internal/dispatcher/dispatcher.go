// Package dispatcher drains the event outbox to subscribers: a poller
// claims pending events on a lease, a fixed pool of workers sharded by
// listingId hash delivers them (preserving per-listing order), and the
// outcome of every enabled webhook subscriber decides whether the event
// completes, retries with backoff, or is dead-lettered.
package dispatcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tunahanbr/willhaben/internal/common/metrics"
	"github.com/tunahanbr/willhaben/internal/config"
	"github.com/tunahanbr/willhaben/internal/platform/event"
	"github.com/tunahanbr/willhaben/internal/platform/subscriber"
	"github.com/tunahanbr/willhaben/internal/store"
)

// Dispatcher implements lifecycle.Service for the outbox-drain side of the
// engine.
type Dispatcher struct {
	cfg    config.DispatcherConfig
	secret string
	store  *store.Store
	client *http.Client

	shards []chan *event.ChangeEvent

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	runningMu sync.Mutex
	running   bool
}

// New builds a Dispatcher. secret is the shared HMAC signing key used for
// every webhook subscriber that doesn't override it with its own.
func New(cfg config.DispatcherConfig, secret string, st *store.Store) *Dispatcher {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}

	return &Dispatcher{
		cfg:      cfg,
		secret:   secret,
		store:    st,
		client:   &http.Client{Timeout: cfg.DeliveryTimeout, Transport: transport},
		shards:   make([]chan *event.ChangeEvent, cfg.Shards),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Name identifies this service to a lifecycle.Supervisor.
func (d *Dispatcher) Name() string { return "dispatcher" }

// Start launches the claim loop and the shard workers, blocking until ctx
// is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.runningMu.Lock()
	if d.running {
		d.runningMu.Unlock()
		return errors.New("dispatcher: already running")
	}
	d.running = true
	d.runningMu.Unlock()

	d.ctx, d.cancel = context.WithCancel(ctx)

	for i := range d.shards {
		d.shards[i] = make(chan *event.ChangeEvent, 256)
		d.wg.Add(1)
		go d.runShard(i)
	}

	d.wg.Add(1)
	go d.claimLoop()

	slog.Info("dispatcher started", "shards", d.cfg.Shards, "processingInterval", d.cfg.ProcessingInterval, "batchSize", d.cfg.BatchSize)

	<-d.ctx.Done()
	return nil
}

// Stop cancels the claim loop, closes every shard channel so its worker
// goroutine exits, then waits for the workers until ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.runningMu.Lock()
	d.running = false
	d.runningMu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	for _, ch := range d.shards {
		if ch != nil {
			close(ch)
		}
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("dispatcher: shutdown deadline exceeded, abandoning in-flight deliveries")
	}
	return nil
}

// Health reports whether the claim loop is running.
func (d *Dispatcher) Health() error {
	d.runningMu.Lock()
	defer d.runningMu.Unlock()
	if !d.running {
		return errors.New("dispatcher: not running")
	}
	return nil
}

func (d *Dispatcher) claimLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.ProcessingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.claimAndShard()
		}
	}
}

func (d *Dispatcher) claimAndShard() {
	events, err := d.store.ClaimPendingEvents(d.ctx, d.cfg.BatchSize, d.cfg.LeaseDuration)
	if err != nil {
		slog.Error("dispatcher: claim failed", "error", err)
		return
	}
	for _, e := range events {
		shard := d.shardFor(e.ListingID)
		select {
		case d.shards[shard] <- e:
			metrics.DispatcherShardQueueDepth.WithLabelValues(fmt.Sprintf("%d", shard)).Inc()
		case <-d.ctx.Done():
			return
		}
	}
}

// shardFor hashes listingId into a fixed worker index so every event for
// the same listing lands on the same worker, preserving delivery order.
func (d *Dispatcher) shardFor(listingID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(listingID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

func (d *Dispatcher) runShard(idx int) {
	defer d.wg.Done()
	for e := range d.shards[idx] {
		metrics.DispatcherShardQueueDepth.WithLabelValues(fmt.Sprintf("%d", idx)).Dec()
		d.deliverEvent(e)
	}
}

// deliverEvent fans an event out to every enabled webhook subscriber and
// resolves the event's outbox status from the aggregate outcome.
func (d *Dispatcher) deliverEvent(e *event.ChangeEvent) {
	subs, err := d.store.EnabledSubscribers(d.ctx)
	if err != nil {
		slog.Error("dispatcher: failed to load subscribers", "event", e.EventID, "error", err)
		d.retryOrDeadLetter(e)
		return
	}

	body, err := canonicalPayload(e, time.Now())
	if err != nil {
		slog.Error("dispatcher: failed to serialize payload", "event", e.EventID, "error", err)
		d.retryOrDeadLetter(e)
		return
	}

	allSucceeded := true
	for _, sub := range subs {
		if sub.Type != subscriber.TypeWebhook {
			// Only the webhook transport has a delivery contract; other
			// subscriber types are registered for future transports and
			// are not yet driven by this worker.
			continue
		}
		if !d.deliverToWebhook(sub, e, body) {
			allSucceeded = false
		}
	}

	if allSucceeded {
		if err := d.store.CompleteEvent(d.ctx, e.EventID, event.StatusProcessed, 0); err != nil {
			slog.Error("dispatcher: failed to mark event processed", "event", e.EventID, "error", err)
		}
		return
	}
	d.retryOrDeadLetter(e)
}

func (d *Dispatcher) retryOrDeadLetter(e *event.ChangeEvent) {
	retryCount := e.RetryCount + 1
	if retryCount >= d.cfg.MaxRetries {
		metrics.DispatcherDeadLettered.Inc()
		if err := d.store.CompleteEvent(d.ctx, e.EventID, event.StatusFailed, retryCount); err != nil {
			slog.Error("dispatcher: failed to dead-letter event", "event", e.EventID, "error", err)
		}
		slog.Warn("dispatcher: event dead-lettered", "event", e.EventID, "retryCount", retryCount)
		return
	}

	// The outbox has no "not-before" field, so backoff is enforced here by
	// holding this shard's worker before the event becomes reclaimable —
	// the event's listing is unaffected since delivery is already serial
	// per listingId.
	delay := backoffWithJitter(retryCount, time.Second, 5*time.Minute)
	select {
	case <-time.After(delay):
	case <-d.ctx.Done():
		return
	}

	if err := d.store.CompleteEvent(d.ctx, e.EventID, event.StatusPending, retryCount); err != nil {
		slog.Error("dispatcher: failed to schedule retry", "event", e.EventID, "error", err)
	}
}

// deliverToWebhook POSTs body to sub's URL, signing it with the
// subscriber's own secret if set or the shared secret otherwise, and
// reports success as a 2xx status received within the subscriber's
// timeout (or the dispatcher's default).
func (d *Dispatcher) deliverToWebhook(sub *subscriber.Subscriber, e *event.ChangeEvent, body []byte) bool {
	start := time.Now()
	defer func() {
		metrics.DispatcherDeliveryDuration.WithLabelValues(string(sub.Type)).Observe(time.Since(start).Seconds())
	}()

	breaker := d.breakerFor(sub.ID)
	result, err := breaker.Execute(func() (interface{}, error) {
		return d.postOnce(sub, e, body)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			slog.Warn("dispatcher: subscriber circuit breaker open", "subscriber", sub.ID, "event", e.EventID)
		}
		metrics.DispatcherDeliveries.WithLabelValues(string(sub.Type), "error").Inc()
		return false
	}

	statusCode, _ := result.(int)
	success := statusCode >= 200 && statusCode < 300
	if success {
		metrics.DispatcherDeliveries.WithLabelValues(string(sub.Type), "success").Inc()
	} else {
		metrics.DispatcherDeliveries.WithLabelValues(string(sub.Type), "error").Inc()
	}
	return success
}

func (d *Dispatcher) postOnce(sub *subscriber.Subscriber, e *event.ChangeEvent, body []byte) (int, error) {
	timeout := d.cfg.DeliveryTimeout
	if sub.Webhook.TimeoutMs > 0 {
		timeout = time.Duration(sub.Webhook.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Webhook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", e.EventID)
	req.Header.Set("X-Event-Type", string(e.EventType))

	secret := sub.Webhook.SigningSecret
	if secret == "" {
		secret = d.secret
	}
	if sig := sign(secret, body); sig != "" {
		req.Header.Set("X-Signature", sig)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (d *Dispatcher) breakerFor(subscriberID string) *gobreaker.CircuitBreaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()

	if b, ok := d.breakers[subscriberID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        subscriberID,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures == counts.Requests
		},
	})
	d.breakers[subscriberID] = b
	return b
}

// backoffWithJitter computes a full-jitter exponential backoff duration for
// the given retry attempt, capped at maxBackoff.
func backoffWithJitter(attempt int, base, maxBackoff time.Duration) time.Duration {
	capped := math.Min(float64(maxBackoff), float64(base)*math.Pow(2, float64(attempt)))
	return time.Duration(rand.Float64() * capped)
}
