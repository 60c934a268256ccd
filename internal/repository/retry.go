package repository

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/strata-lab/strata/internal/store"
)

// RetryConflict runs fn, retrying with exponential backoff for as long as
// it fails with a ConcurrencyError. It is an explicit caller-side policy:
// the repository itself never retries, and fn must reload the aggregate
// from the store before reapplying its change, since the conflict means the
// in-memory copy is stale. Any other error aborts immediately.
func RetryConflict(ctx context.Context, maxRetries uint64, fn func(ctx context.Context) error) error {
	operation := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if store.IsConcurrencyError(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
}
