package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter bounds in-flight operations to a fixed concurrency and paces
// aggregate throughput to one admission per minDelay even when capacity is
// available. Blocked callers are admitted in FIFO order.
type RateLimiter struct {
	sem  chan struct{}
	pace *rate.Limiter
}

// NewRateLimiter returns a limiter admitting maxConcurrent in-flight
// operations. minDelay of zero disables pacing.
func NewRateLimiter(maxConcurrent int, minDelay time.Duration) *RateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	l := &RateLimiter{
		sem: make(chan struct{}, maxConcurrent),
	}

	if minDelay > 0 {
		l.pace = rate.NewLimiter(rate.Every(minDelay), 1)
	}

	return l
}

// Do runs op once a slot and the pacing budget are available.
func (l *RateLimiter) Do(ctx context.Context, op func() error) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	if l.pace != nil {
		if err := l.pace.Wait(ctx); err != nil {
			return err
		}
	}

	return op()
}

// InFlight returns the number of operations currently admitted.
func (l *RateLimiter) InFlight() int {
	return len(l.sem)
}
