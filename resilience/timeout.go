package resilience

import (
	"context"
	"errors"
	"time"
)

// WithTimeout races op against a timer. On timeout the given message is
// returned as the error and the operation's eventual result is discarded. The
// timer is released on either outcome.
func WithTimeout[T any](ctx context.Context, d time.Duration, message string, op func(context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)

	go func() {
		value, err := op(opCtx)
		done <- result{value: value, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.value, res.err
	case <-timer.C:
		var zero T
		return zero, errors.New(message)
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
