// Package retry runs an operation under a bounded retry policy. It is shared by
// the provider adapter (exponential backoff on transient errors) and the job
// runner (linear backoff between job attempts).
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// Backoff returns the wait after the n-th failed attempt (n starts at 0).
	// Nil means no wait.
	Backoff func(n int) time.Duration
	// Retryable reports whether err may be retried. Nil retries every error.
	Retryable func(err error) bool
	// Notify, when set, is called before each wait.
	Notify func(err error, wait time.Duration)
}

// Exponential returns base * 2^n.
func Exponential(base time.Duration) func(n int) time.Duration {
	return func(n int) time.Duration {
		if n > 30 {
			n = 30
		}
		return base << uint(n)
	}
}

// Linear returns offset + n*step.
func Linear(offset, step time.Duration) func(n int) time.Duration {
	return func(n int) time.Duration {
		return offset + time.Duration(n)*step
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. fn receives the zero-based attempt index. The last error is
// returned unwrapped. Waits are interrupted when ctx is cancelled; pass a
// context without cancellation for waits that must always complete.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var b backoff.BackOff = &schedule{next: p.Backoff}
	b = backoff.WithMaxRetries(b, uint64(maxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	op := func() error {
		err := fn(attempt)
		attempt++
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.RetryNotify(op, b, p.Notify)
}

// schedule adapts a backoff function to backoff.BackOff.
type schedule struct {
	next func(n int) time.Duration
	n    int
}

func (s *schedule) NextBackOff() time.Duration {
	if s.next == nil {
		return 0
	}
	d := s.next(s.n)
	s.n++
	if d < 0 {
		d = 0
	}
	return d
}

func (s *schedule) Reset() { s.n = 0 }
