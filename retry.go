package ygggo_orm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how Executor.Transaction retries a unit of work
// that failed with a retryable error (deadlock, lock wait timeout,
// serialization failure, read-only failover).
type RetryPolicy struct {
	// MaxAttempts counts the first attempt; values below 1 mean 1.
	MaxAttempts int           `koanf:"max_attempts"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
	MaxBackoff  time.Duration `koanf:"max_backoff"`
	Jitter      bool          `koanf:"jitter"`
	// MaxElapsed stops retrying after this much time; zero means no limit.
	MaxElapsed time.Duration `koanf:"max_elapsed"`
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 10 * time.Millisecond
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseBackoff
	eb.MaxInterval = p.MaxBackoff
	eb.MaxElapsedTime = p.MaxElapsed
	if !p.Jitter {
		eb.RandomizationFactor = 0
	}
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// retryWithPolicy retries op according to policy. classify decides which
// errors are worth another attempt; others are returned immediately.
func retryWithPolicy(ctx context.Context, pol RetryPolicy, op func() error, classify func(error) ErrorClass) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isRetryableClass(classify(err)) {
			return backoff.Permanent(err)
		}
		return err
	}, pol.backOff(ctx))
}
