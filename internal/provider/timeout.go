package provider

import (
	"context"
	"time"
)

// RunWithTimeout runs fn and returns its result, or a *TimeoutError once
// timeout elapses. fn receives a context that is cancelled on timeout, but
// nothing waits for fn to observe it: a backend that ignores cancellation
// keeps running and its result is dropped. A non-positive timeout disables the
// race.
func RunWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	go func() {
		v, err := fn(callCtx)
		done <- result{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
		return zero, &TimeoutError{Seconds: timeout.Seconds()}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
