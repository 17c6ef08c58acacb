package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"h2-telemetry-gateway/internal/retry"
)

func TestIntervalGrowsAndClamps(t *testing.T) {
	ctx := context.Background()
	b := &retry.ExponentialBackoff{
		MinInterval: 100 * time.Millisecond,
		MaxInterval: time.Second,
		NoJitter:    true,
	}
	require.Equal(t, 100*time.Millisecond, b.Interval(ctx, 1, true))
	require.Equal(t, 200*time.Millisecond, b.Interval(ctx, 2, true))
	require.Equal(t, 400*time.Millisecond, b.Interval(ctx, 3, true))
	require.Equal(t, 800*time.Millisecond, b.Interval(ctx, 4, true))
	require.InDelta(t, float64(time.Second), float64(b.Interval(ctx, 5, true)), float64(time.Microsecond))
	require.InDelta(t, float64(time.Second), float64(b.Interval(ctx, 50, true)), float64(time.Microsecond))
}

func TestIntervalJitterBounds(t *testing.T) {
	b := &retry.ExponentialBackoff{MinInterval: time.Second, MaxInterval: time.Minute}
	for i := 0; i < 100; i++ {
		got := b.Interval(context.Background(), 1, true)
		require.GreaterOrEqual(t, got, 950*time.Millisecond)
		require.LessOrEqual(t, got, 1050*time.Millisecond)
	}
}

func TestIntervalStops(t *testing.T) {
	b := &retry.ExponentialBackoff{MaxAttempts: 3}
	require.Zero(t, b.Interval(context.Background(), 1, false))
	require.Zero(t, b.Interval(context.Background(), 3, true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Zero(t, b.Interval(ctx, 1, true))
}

func TestStartRetriesUntilSuccess(t *testing.T) {
	b := &retry.ExponentialBackoff{MinInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	calls := 0
	err := b.Start(context.Background(), "dial", func(context.Context) (bool, error) {
		calls++
		if calls < 3 {
			return true, errors.New("refused")
		}
		return false, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestStartGivesUp(t *testing.T) {
	boom := errors.New("boom")
	b := &retry.ExponentialBackoff{MaxAttempts: 2, MinInterval: time.Millisecond}
	calls := 0
	err := b.Start(context.Background(), "dial", func(context.Context) (bool, error) {
		calls++
		return true, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, calls)

	calls = 0
	err = b.Start(context.Background(), "dial", func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestStartHonoursContext(t *testing.T) {
	b := &retry.ExponentialBackoff{MinInterval: time.Hour, MaxInterval: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Start(ctx, "dial", func(context.Context) (bool, error) {
		return true, errors.New("refused")
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
