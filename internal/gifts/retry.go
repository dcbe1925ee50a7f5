package gifts

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultReadAttempts = 4
	defaultReadBackoff  = 250 * time.Millisecond
	defaultMaxWait      = 2 * time.Second
)

// RetryPolicy bounds read retries. The wait before retry n is n*Base, capped
// at MaxWait, with no jitter.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	MaxWait  time.Duration
}

// DefaultRetryPolicy mirrors the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: defaultReadAttempts, Base: defaultReadBackoff, MaxWait: defaultMaxWait}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Base < 0 {
		p.Base = 0
	}
	if p.MaxWait <= 0 {
		p.MaxWait = defaultMaxWait
	}
	return p
}

// Delays lists the waits the policy inserts between attempts.
func (p RetryPolicy) Delays() []time.Duration {
	backoff := p.backoff()
	delays := make([]time.Duration, 0, p.normalized().Attempts)
	for {
		next, stop := backoff.Next()
		if stop {
			return delays
		}
		delays = append(delays, next)
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	policy := p.normalized()
	var attempt int64
	linear := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * policy.Base, false
	})
	return retry.WithMaxRetries(uint64(policy.Attempts-1), retry.WithCappedDuration(policy.MaxWait, linear))
}

// run invokes fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. fn marks retryable failures with retry.RetryableError.
func (p RetryPolicy) run(ctx context.Context, fn retry.RetryFunc) error {
	return retry.Do(ctx, p.backoff(), fn)
}
