// Package breaker implements per-target circuit breaking on top of
// sony/gobreaker, reproducing the engine's CLOSED/OPEN/HALF_OPEN state
// machine: a target trips to OPEN after consecutiveFailures >= threshold,
// probes once OPEN's timeout elapses, and closes after halfOpenProbe
// consecutive successes.
package breaker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tunahanbr/willhaben/internal/common/metrics"
)

// State mirrors target.BreakerState without importing the platform package,
// keeping this package dependency-free of persistence concerns.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Settings configures one target's breaker.
type Settings struct {
	FailureThreshold uint32        // consecutive failures to trip CLOSED -> OPEN
	OpenDuration     time.Duration // time spent OPEN before a probe is admitted
	HalfOpenProbe    uint32        // consecutive successes in HALF_OPEN required to close
}

// DefaultSettings matches the engine's documented defaults.
func DefaultSettings() Settings {
	return Settings{FailureThreshold: 5, OpenDuration: 60 * time.Second, HalfOpenProbe: 3}
}

// ErrOpen is returned by Execute when the breaker refuses the call.
var ErrOpen = gobreaker.ErrOpenState

// breakerEntry pairs a target's gobreaker state machine with the failure
// counter that drives trip decisions. gobreaker's own Counts.ConsecutiveFailures
// resets to 0 on any single success; failureCount instead drifts down by 1
// per success, floored at 0, so one good response doesn't erase a run of
// near-threshold failures.
type breakerEntry struct {
	cb           *gobreaker.CircuitBreaker
	failureCount int32
}

// Registry holds one breaker per target, created lazily on first use.
type Registry struct {
	settings Settings
	onChange func(targetID string, from, to State)

	mu        sync.Mutex
	breakers  map[string]*breakerEntry
	probeGate map[string]chan struct{}
}

// NewRegistry creates a breaker registry. onChange, if non-nil, is invoked
// on every state transition so the caller can persist the observable state
// onto the owning PollingTarget.
func NewRegistry(settings Settings, onChange func(targetID string, from, to State)) *Registry {
	return &Registry{
		settings:  settings,
		onChange:  onChange,
		breakers:  make(map[string]*breakerEntry),
		probeGate: make(map[string]chan struct{}),
	}
}

// Execute runs fn through the named target's breaker. When the breaker is
// HALF_OPEN, probes are additionally serialized through a one-slot gate so
// only one in-flight call reaches fn at a time, independent of gobreaker's
// MaxRequests admission count.
func (r *Registry) Execute(ctx context.Context, targetID string, fn func() error) error {
	entry := r.breakerFor(targetID)
	cb := entry.cb

	if cb.State() == gobreaker.StateHalfOpen {
		gate := r.gateFor(targetID)
		select {
		case gate <- struct{}{}:
			defer func() { <-gate }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	_, err := cb.Execute(func() (any, error) {
		callErr := fn()
		if callErr != nil {
			atomic.AddInt32(&entry.failureCount, 1)
		} else {
			driftDown(&entry.failureCount)
		}
		return nil, callErr
	})
	return err
}

// State returns the target's current breaker state.
func (r *Registry) State(targetID string) State {
	r.mu.Lock()
	entry, ok := r.breakers[targetID]
	r.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return fromGobreaker(entry.cb.State())
}

func (r *Registry) breakerFor(targetID string) *breakerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.breakers[targetID]; ok {
		return entry
	}

	entry := &breakerEntry{}
	entry.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        targetID,
		MaxRequests: r.settings.HalfOpenProbe,
		Interval:    0, // never reset counts on a timer; only consecutive runs matter
		Timeout:     r.settings.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return atomic.LoadInt32(&entry.failureCount) >= int32(r.settings.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromState, toState := fromGobreaker(from), fromGobreaker(to)
			metrics.BreakerState.WithLabelValues(name).Set(float64(stateValue(toState)))
			if toState == StateOpen {
				metrics.BreakerTrips.WithLabelValues(name).Inc()
			}
			if toState == StateClosed || toState == StateOpen {
				atomic.StoreInt32(&entry.failureCount, 0)
			}
			if r.onChange != nil {
				r.onChange(name, fromState, toState)
			}
		},
	})
	r.breakers[targetID] = entry
	return entry
}

// driftDown decrements counter by 1, floored at 0, racing safely against
// concurrent increments from failing calls.
func driftDown(counter *int32) {
	for {
		cur := atomic.LoadInt32(counter)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt32(counter, cur, cur-1) {
			return
		}
	}
}

func (r *Registry) gateFor(targetID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	gate, ok := r.probeGate[targetID]
	if !ok {
		gate = make(chan struct{}, 1)
		r.probeGate[targetID] = gate
	}
	return gate
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func stateValue(s State) int {
	switch s {
	case StateOpen:
		return metrics.CircuitBreakerOpen
	case StateHalfOpen:
		return metrics.CircuitBreakerHalfOpen
	default:
		return metrics.CircuitBreakerClosed
	}
}
