package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_TripsAfterConsecutiveFailures(t *testing.T) {
	reg := NewRegistry(Settings{FailureThreshold: 3, OpenDuration: 50 * time.Millisecond, HalfOpenProbe: 2}, nil)
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := reg.Execute(ctx, "t1", func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, StateOpen, reg.State("t1"))

	err := reg.Execute(ctx, "t1", func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen, "a 4th call while OPEN must be refused without invoking fn")
}

func TestRegistry_HalfOpenClosesAfterProbeSuccesses(t *testing.T) {
	reg := NewRegistry(Settings{FailureThreshold: 1, OpenDuration: 10 * time.Millisecond, HalfOpenProbe: 2}, nil)
	ctx := context.Background()

	require.Error(t, reg.Execute(ctx, "t2", func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, reg.State("t2"))

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, reg.Execute(ctx, "t2", func() error { return nil }))
	require.NoError(t, reg.Execute(ctx, "t2", func() error { return nil }))

	assert.Equal(t, StateClosed, reg.State("t2"))
}

func TestRegistry_StartsClosedForUnknownTarget(t *testing.T) {
	reg := NewRegistry(DefaultSettings(), nil)
	assert.Equal(t, StateClosed, reg.State("never-seen"))
}

// TestRegistry_SuccessDriftsFailureCountDownByOne pins down the CLOSED-state
// recovery curve: a single success only drifts the failure count down by 1
// (floored at 0), it does not zero it outright. Two failures, then a
// success, then two more failures must still reach a threshold of 3 and
// trip; a breaker that zeroed on success would never trip from this
// sequence.
func TestRegistry_SuccessDriftsFailureCountDownByOne(t *testing.T) {
	reg := NewRegistry(Settings{FailureThreshold: 3, OpenDuration: time.Minute, HalfOpenProbe: 1}, nil)
	ctx := context.Background()
	boom := errors.New("boom")

	require.Error(t, reg.Execute(ctx, "t3", func() error { return boom })) // count: 1
	require.Error(t, reg.Execute(ctx, "t3", func() error { return boom })) // count: 2
	require.NoError(t, reg.Execute(ctx, "t3", func() error { return nil })) // drift: 1
	require.Equal(t, StateClosed, reg.State("t3"))

	require.Error(t, reg.Execute(ctx, "t3", func() error { return boom })) // count: 2
	require.Equal(t, StateClosed, reg.State("t3"), "still below threshold after the drifted-down count regrows")

	require.Error(t, reg.Execute(ctx, "t3", func() error { return boom })) // count: 3, trips
	assert.Equal(t, StateOpen, reg.State("t3"))
}
