package broadcast

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dmitrymomot/replicast/pkg/logger"
	"github.com/dmitrymomot/replicast/pkg/operation"
)

// BackoffStrategy calculates the delay before a retry.
// Implementations must be safe for concurrent use.
type BackoffStrategy interface {
	// NextInterval returns the delay before retry number attempt (starting at 1).
	NextInterval(attempt int) time.Duration
}

// ExponentialBackoff grows the delay geometrically with optional jitter.
// Formula: min(InitialInterval * Multiplier^(attempt-1) * (1 ± JitterFactor), MaxInterval)
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.InitialInterval
	if initial == 0 {
		initial = 100 * time.Millisecond
	}
	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = 5 * time.Second
	}
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if e.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}
	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}
	return time.Duration(interval)
}

// FixedBackoff waits the same interval before every retry.
type FixedBackoff struct {
	Interval time.Duration
}

func (f FixedBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return f.Interval
}

// DefaultBackoff is the strategy used by a Retrier without one.
func DefaultBackoff() BackoffStrategy {
	return ExponentialBackoff{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		JitterFactor:    0.1,
	}
}

// Retrier repeats announces that failed for a transient transport reason.
// Authorization, payload and serialization failures are returned at once.
type Retrier struct {
	Service     *Service
	Backoff     BackoffStrategy
	MaxAttempts int // total attempts including the first; defaults to 3
}

// Announce calls Service.Announce until it succeeds, fails permanently, the
// attempts run out or ctx is done. The last error is returned.
func (r Retrier) Announce(ctx context.Context, op operation.Operation) error {
	return r.AnnounceTo(ctx, "", op)
}

// AnnounceTo is Announce with an explicit topic.
func (r Retrier) AnnounceTo(ctx context.Context, topic string, op operation.Operation) error {
	backoff := r.Backoff
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			r.Service.stats.retried.Add(1)
			r.Service.log.WarnContext(ctx, "retrying announce",
				logger.Operation(op.Kind()),
				logger.OperationID(op.ID()),
				logger.Attempt(attempt),
				logger.Error(err),
			)
		}

		err = r.Service.AnnounceTo(ctx, topic, op)
		if err == nil || !IsRetryable(err) || attempt == attempts {
			return err
		}

		timer := time.NewTimer(backoff.NextInterval(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
