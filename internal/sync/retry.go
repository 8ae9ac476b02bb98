package sync

import (
	"context"
	"time"

	"github.com/vitorhnn/nimble/internal/repo"
)

// RetryPolicy bounds the attempts of one fetch. Only transient transport
// failures are retried; everything else fails the attempt immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

type retryState int

const (
	retryIdle retryState = iota
	retryAttempting
	retrySuccess
	retryTransientFailure
	retryPermanentFailure
)

// withRetry drives op through the bounded-attempt state machine:
// Idle → Attempting → {Success, TransientFailure → Attempting (until the
// budget is exhausted), PermanentFailure}.
func withRetry(ctx context.Context, policy RetryPolicy, op func() error) error {
	state := retryIdle
	attempt := 0
	var lastErr error

	for {
		switch state {
		case retryIdle:
			state = retryAttempting

		case retryAttempting:
			attempt++
			err := op()
			switch {
			case err == nil:
				state = retrySuccess
			case ctx.Err() != nil:
				// a cancelled pass reports the cancellation, not whatever
				// failure the attempt happened to hit on the way down
				return ctx.Err()
			case repo.IsTransient(err) && attempt < policy.MaxAttempts:
				lastErr = err
				state = retryTransientFailure
			default:
				lastErr = err
				state = retryPermanentFailure
			}

		case retryTransientFailure:
			timer := time.NewTimer(policy.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
				state = retryAttempting
			}

		case retrySuccess:
			return nil

		case retryPermanentFailure:
			return lastErr
		}
	}
}
