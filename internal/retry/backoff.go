// Package retry runs a task until it succeeds, the policy gives up, or the
// context ends.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"h2-telemetry-gateway/internal/logging"
)

type (
	// Task is the function to retry. It reports whether the error it returns
	// is worth another attempt.
	Task = func(context.Context) (shouldRetry bool, err error)

	Policy interface {
		Start(ctx context.Context, name string, task Task) error
	}
)

// ExponentialBackoff doubles the wait between attempts, with ±5% jitter.
type ExponentialBackoff struct {
	// MaxAttempts of 0 means unlimited; 1 disables retries.
	MaxAttempts uint64

	// MinInterval defaults to 1/8s.
	MinInterval time.Duration

	// MaxInterval defaults to 30s.
	MaxInterval time.Duration

	// Timeout bounds all attempts together. Zero means no bound.
	Timeout time.Duration

	NoJitter bool

	Logger *slog.Logger
}

func (e *ExponentialBackoff) Start(ctx context.Context, name string, task Task) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	log := logging.OrDiscard(e.Logger)

	for attempt := uint64(1); ; attempt++ {
		log.Debug("retry", slog.String("task", name), slog.Uint64("attempt", attempt))
		retry, err := task(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("retry succeeded", slog.String("task", name), slog.Uint64("attempt", attempt))
			}
			return nil
		}

		interval := e.Interval(ctx, attempt, retry)
		if interval == 0 {
			log.Info("retry failed",
				slog.String("task", name),
				slog.Uint64("attempt", attempt),
				logging.Err(err),
			)
			return err
		}

		log.Info("retrying",
			slog.String("task", name),
			slog.Uint64("attempt", attempt),
			slog.Duration("wait", interval),
			logging.Err(err),
		)

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Interval returns the wait before the attempt after attempt, or zero when
// no further attempt should be made.
func (e *ExponentialBackoff) Interval(ctx context.Context, attempt uint64, retry bool) time.Duration {
	switch {
	case !retry,
		attempt == e.MaxAttempts,
		ctx.Err() != nil:
		return 0
	}

	minInterval := e.MinInterval
	if minInterval == 0 {
		minInterval = time.Second / 8
	}

	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = 30 * time.Second
	}

	factor := math.Pow(2, min(
		float64(attempt-1),
		math.Log2(float64(maxInterval)/float64(minInterval)),
	))
	if !e.NoJitter {
		// #nosec G404
		factor *= .95 + .1*rand.Float64()
	}

	return time.Duration(factor * float64(minInterval))
}
