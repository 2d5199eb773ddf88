package stream

import (
	"context"
	"time"
)

// RetryPolicy controls how Submit retries transient backend failures. Sleep
// is injectable so tests can observe the schedule without waiting.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier int
	Sleep             func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the backend's published guidance: three
// attempts, five-second initial backoff, doubling between attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    5 * time.Second,
		BackoffMultiplier: 2,
	}
}

// normalized fills zero fields with defaults so a partially specified policy
// still behaves sensibly.
func (p RetryPolicy) normalized() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaults.InitialBackoff
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// backoffFor returns the pause before retrying after the given 1-based
// attempt number.
func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	backoff := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= time.Duration(p.BackoffMultiplier)
	}
	return backoff
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
