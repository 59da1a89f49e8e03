// Package retry wraps cenkalti/backoff for the store conflict policy:
// a conflicted transition is retried a bounded number of times with a
// short jittered delay before the caller gives up until the next tick.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
)

const conflictAttempts = 3

// OnConflict runs op, retrying only Conflict errors, up to three
// attempts with 50-200ms jittered waits. Any other error returns
// immediately.
func OnConflict(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	policy.RandomizationFactor = 0.5

	wrapped := func() error {
		err := op()
		if err != nil && !errors.Is(err, apperrors.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(policy, conflictAttempts-1), ctx))
}
