package fn

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// Retryable decides whether a failure is worth another attempt.
	// Nil retries everything except context errors.
	Retryable func(error) bool
	// OnRetry is called before each wait with the failed attempt (1-based).
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetry is used for ingestion writes to the vector index.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     10 * time.Second,
	Jitter:      true,
}

func (o RetryOpts) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return o.Retryable == nil || o.Retryable(err)
}

// backoff returns the wait before attempt+1, doubling per attempt.
func (o RetryOpts) backoff(attempt int) time.Duration {
	wait := o.InitialWait << (attempt - 1)
	if wait <= 0 || (o.MaxWait > 0 && wait > o.MaxWait) {
		wait = o.MaxWait
	}
	if o.Jitter && wait > 0 {
		wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		if o.MaxWait > 0 && wait > o.MaxWait {
			wait = o.MaxWait
		}
	}
	return wait
}

// Retry calls f until it succeeds, returns a non-retryable error or
// MaxAttempts is reached, with exponential backoff between attempts.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		result := f(ctx)
		if result.IsOk() || attempt >= opts.MaxAttempts || !opts.retryable(result.err) {
			return result
		}

		wait := opts.backoff(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, result.err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Err[T](ctx.Err())
		case <-timer.C:
		}
	}
}
