package llm

import (
	"context"
	"time"
)

// DefaultTimeout is the wall-clock deadline applied to a planning call when
// the caller doesn't specify one.
const DefaultTimeout = 30 * time.Second

// WithTimeout wraps fn with a context deadline. The underlying call is
// cancelled via ctx if the substrate honors cancellation; on expiry it
// returns a *Error with Type ErrorTypeEndpoint and Retryable true. The
// wrapper never swallows the error or decides retry policy — that is the
// Planner's job.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, NewError(ErrorTypeEndpoint, "llm call exceeded timeout", true, ctx.Err())
	}
}
