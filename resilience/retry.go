// Package resilience provides the retry, circuit breaker, rate limiting and
// timeout primitives used by the bootstrap orchestrator and the gateway.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/semihalev/zlog/v2"
)

// BackoffOptions control RetryWithBackoff and RetryWithJitter.
type BackoffOptions struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultBackoff is used when options are left zero valued.
var DefaultBackoff = BackoffOptions{
	MaxAttempts:   3,
	InitialDelay:  time.Second,
	MaxDelay:      8 * time.Second,
	BackoffFactor: 2,
}

func (o BackoffOptions) withDefaults() BackoffOptions {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = DefaultBackoff.MaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultBackoff.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultBackoff.MaxDelay
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = DefaultBackoff.BackoffFactor
	}
	return o
}

// RetryWithBackoff attempts op up to MaxAttempts times, sleeping between
// attempts with exponential growth capped at MaxDelay. The last error is
// returned after the attempts are exhausted.
func RetryWithBackoff(ctx context.Context, op func(context.Context) error, opts BackoffOptions) error {
	return retry(ctx, op, opts, false)
}

// RetryWithJitter is RetryWithBackoff with uniform noise in a quarter of the
// delay added before each sleep, decorrelating simultaneous retries across
// independent callers.
func RetryWithJitter(ctx context.Context, op func(context.Context) error, opts BackoffOptions) error {
	return retry(ctx, op, opts, true)
}

func retry(ctx context.Context, op func(context.Context) error, opts BackoffOptions, jitter bool) error {
	opts = opts.withDefaults()

	var lastErr error
	delay := opts.InitialDelay

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == opts.MaxAttempts {
			break
		}

		sleep := delay
		if jitter {
			// +-25% of the current delay
			noise := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
			sleep = delay + noise
			if sleep < 0 {
				sleep = 0
			}
		}

		zlog.Debug("Retrying after failure", "attempt", attempt, "delay", sleep.String(), "error", lastErr.Error())

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * opts.BackoffFactor)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}

	return lastErr
}

// BackoffDelays returns the sleep schedule the options produce, one delay per
// non-final attempt.
func BackoffDelays(opts BackoffOptions) []time.Duration {
	opts = opts.withDefaults()

	delays := make([]time.Duration, 0, opts.MaxAttempts-1)
	delay := opts.InitialDelay

	for i := 0; i < opts.MaxAttempts-1; i++ {
		delays = append(delays, delay)

		delay = time.Duration(float64(delay) * opts.BackoffFactor)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}

	return delays
}
