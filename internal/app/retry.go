package app

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"live-quiz-service/internal/domain"
)

// RetryPolicy bounds how long transient store failures are retried.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy is used when a zero policy is configured.
var DefaultRetryPolicy = RetryPolicy{InitialInterval: 50 * time.Millisecond, MaxElapsed: 2 * time.Second}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = DefaultRetryPolicy.MaxElapsed
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxElapsedTime = p.MaxElapsed
	return backoff.WithContext(b, ctx)
}

// withRetry runs fn until it succeeds, fails with a non-transient error, or the policy gives up.
// Only domain.CodeUnavailable is considered transient.
func withRetry[T any](ctx context.Context, policy RetryPolicy, fn func() (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		out, err := fn()
		if err != nil && !errors.Is(err, domain.ErrUnavailable) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, policy.backoff(ctx))
}
