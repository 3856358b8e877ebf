package registry

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/cormdev/corm/internal/session"
)

// TxOptions configures WithTransaction (spec.md §4.5
// "with_transaction(retry, retry_exceptions, allowed_exceptions)").
type TxOptions struct {
	// Retry caps the number of additional attempts after the first
	// failure. Zero means no retry.
	Retry int

	// RetryIf reports whether an error returned by the wrapped function
	// should be retried rather than rolled back and re-raised immediately.
	// A nil RetryIf never retries.
	RetryIf func(error) bool

	// AllowedExceptions commits rather than rolling back when fn returns
	// an error matching one of these via errors.Is.
	AllowedExceptions []error
}

func (o TxOptions) allowed(err error) bool {
	for _, a := range o.AllowedExceptions {
		if errors.Is(err, a) {
			return true
		}
	}
	return false
}

func (o TxOptions) retryable(err error) bool {
	return o.RetryIf != nil && o.RetryIf(err)
}

// WithTransaction runs fn against c, committing on success or on an
// allowed exception, rolling back and re-raising otherwise (spec.md §4.5).
// Retries follow the teacher's exponential-backoff convention
// (internal/storage/dolt/store.go's newServerRetryBackoff/isRetryableError
// pair): each retryable failure rolls back before the next attempt, since a
// rolled-back session is the only way to retry cleanly against the same
// connection.
func WithTransaction(ctx context.Context, c *session.Cache, opts TxOptions, fn func(ctx context.Context) error) error {
	var lastErr error
	attempt := 0

	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil || opts.allowed(err) {
			if cerr := c.Commit(ctx); cerr != nil {
				lastErr = cerr
				return backoff.Permanent(cerr)
			}
			lastErr = nil
			return nil
		}

		if rerr := c.Rollback(ctx); rerr != nil {
			lastErr = rerr
			return backoff.Permanent(rerr)
		}
		lastErr = err
		if attempt <= opts.Retry && opts.retryable(err) {
			return err // backoff will retry
		}
		return backoff.Permanent(err)
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxInt(opts.Retry, 0)))
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return perm.Err
		}
		return err
	}
	return lastErr
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
