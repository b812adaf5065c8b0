package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_BackoffDelays(t *testing.T) {
	opts := BackoffOptions{
		MaxAttempts:   6,
		InitialDelay:  time.Second,
		MaxDelay:      8 * time.Second,
		BackoffFactor: 2,
	}

	delays := BackoffDelays(opts)

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	assert.Equal(t, expected, delays)
}

func Test_RetryWithBackoff(t *testing.T) {
	boom := errors.New("boom")

	attempts := 0
	err := RetryWithBackoff(context.Background(), func(_ context.Context) error {
		attempts++
		return boom
	}, BackoffOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2})

	assert.Equal(t, boom, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = RetryWithBackoff(context.Background(), func(_ context.Context) error {
		attempts++
		if attempts < 2 {
			return boom
		}
		return nil
	}, BackoffOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func Test_RetryWithJitter(t *testing.T) {
	boom := errors.New("boom")

	attempts := 0
	err := RetryWithJitter(context.Background(), func(_ context.Context) error {
		attempts++
		return boom
	}, BackoffOptions{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2})

	assert.Equal(t, boom, err)
	assert.Equal(t, 2, attempts)
}

func Test_RetryCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := RetryWithBackoff(ctx, func(_ context.Context) error {
		attempts++
		return errors.New("boom")
	}, BackoffOptions{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2})

	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 1, attempts)
}

func Test_CircuitBreaker(t *testing.T) {
	boom := errors.New("boom")
	cb := NewCircuitBreaker(3, 50*time.Millisecond)

	calls := 0
	op := func() error {
		calls++
		return boom
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, boom, cb.Do(op))
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 3, calls)

	// open circuit rejects without invoking the operation
	assert.Equal(t, ErrCircuitOpen, cb.Do(op))
	assert.Equal(t, 3, calls)

	time.Sleep(60 * time.Millisecond)

	// single probe allowed, success closes the breaker
	err := cb.Do(func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 4, calls)
}

func Test_CircuitBreakerReopen(t *testing.T) {
	boom := errors.New("boom")
	cb := NewCircuitBreaker(1, 20*time.Millisecond)

	assert.Equal(t, boom, cb.Do(func() error { return boom }))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	// failed probe reopens
	assert.Equal(t, boom, cb.Do(func() error { return boom }))
	assert.Equal(t, StateOpen, cb.State())
}

func Test_RateLimiterConcurrency(t *testing.T) {
	l := NewRateLimiter(2, 0)

	var peak, current atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_ = l.Do(context.Background(), func() error {
				now := current.Add(1)
				for {
					old := peak.Load()
					if now <= old || peak.CompareAndSwap(old, now) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}

	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func Test_RateLimiterPacing(t *testing.T) {
	l := NewRateLimiter(4, 10*time.Millisecond)

	start := time.Now()
	for i := 0; i < 4; i++ {
		_ = l.Do(context.Background(), func() error { return nil })
	}

	// 3 paced admissions after the initial burst of one
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func Test_WithTimeout(t *testing.T) {
	v, err := WithTimeout(context.Background(), 50*time.Millisecond, "too slow", func(_ context.Context) (int, error) {
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = WithTimeout(context.Background(), 10*time.Millisecond, "too slow", func(ctx context.Context) (int, error) {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return 0, ctx.Err()
	})
	assert.EqualError(t, err, "too slow")
}
