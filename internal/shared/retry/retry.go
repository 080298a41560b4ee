// Package retry holds the bounded retry policy shared by the outbox drain
// and the per-recipient offer delivery.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy describes a bounded, fixed-delay retry.
//
// MaxAttempts <= 0 means a single attempt for Do, and Exhausted reports
// true from the start. A nil Retryable treats every error as transient except
// Permanent ones. Do stops once the caller's ctx is done; an error that merely
// wraps context.DeadlineExceeded, such as an http.Client timeout, is retried.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
}

// Exhausted reports whether n prior attempts already reach the cutoff.
func (p Policy) Exhausted(n int) bool {
	return n >= p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. It returns the number of attempts made and the last error.
func (p Policy) Do(ctx context.Context, clock clockwork.Clock, fn func(ctx context.Context, attempt int) error) (int, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	limit := p.MaxAttempts
	if limit <= 0 {
		limit = 1
	}

	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if cerr := ctx.Err(); cerr != nil {
			if errors.Is(err, cerr) {
				return attempt, err
			}
			return attempt, errors.Join(err, cerr)
		}
		if attempt == limit || !p.retryable(err) {
			return attempt, err
		}
		if serr := sleep(ctx, clock, p.Delay); serr != nil {
			return attempt, errors.Join(err, serr)
		}
	}
	return limit, err
}

func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry wait: %w", ctx.Err())
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as fatal so Do stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
