package apperrors

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds exponential backoff for transient store errors.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times starting at 50ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = defaults.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// Retry runs operation until it succeeds, fails with a non-transient error,
// exhausts the policy's attempts, or ctx is done.
func Retry(ctx context.Context, policy RetryPolicy, operation func(context.Context) error) error {
	policy = policy.normalized()

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = policy.InitialInterval
	exponential.MaxInterval = policy.MaxInterval
	exponential.MaxElapsedTime = 0

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(exponential, uint64(policy.MaxAttempts-1)),
		ctx,
	)

	return backoff.Retry(func() error {
		err := operation(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, strategy)
}

// RetryValue is Retry for operations that produce a value.
func RetryValue[T any](ctx context.Context, policy RetryPolicy, operation func(context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, policy, func(ctx context.Context) error {
		value, opErr := operation(ctx)
		if opErr != nil {
			return opErr
		}
		result = value
		return nil
	})
	return result, err
}
