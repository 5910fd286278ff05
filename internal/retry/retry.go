// Package retry runs upstream calls under a bounded exponential backoff policy.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy describes how a call is retried
type Policy struct {
	// MaxAttempts counts the first call; values below 1 mean a single attempt
	MaxAttempts int
	// Base is the first backoff delay, doubled on every retry
	Base time.Duration
	// Retryable decides which errors are retried. Nil retries nothing.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep with the attempt that just failed
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (p Policy) retries() uint64 {
	if p.MaxAttempts <= 1 {
		return 0
	}
	return uint64(p.MaxAttempts - 1)
}

func (p Policy) backoff() goretry.Backoff {
	base := p.Base
	if base <= 0 {
		base = time.Millisecond
	}
	return goretry.WithMaxRetries(p.retries(), goretry.NewExponential(base))
}

// Delays returns the backoff schedule the policy would sleep through
func (p Policy) Delays() []time.Duration {
	b := p.backoff()
	var delays []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			return delays
		}
		delays = append(delays, d)
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or attempts run out.
// The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var (
		attempt int
		lastErr error
	)

	next := p.backoff()
	hooked := goretry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if !stop && p.OnRetry != nil {
			p.OnRetry(attempt, d, lastErr)
		}
		return d, stop
	})

	return goretry.Do(ctx, hooked, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.Retryable != nil && p.Retryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}
