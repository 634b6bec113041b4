// Package retry implements the bounded exponential backoff applied to
// message handling.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrExhausted = errors.New("retries exhausted")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type Policy struct {
	// Limit is the number of retries after the first attempt.
	Limit       int
	MinInterval time.Duration
	MaxInterval time.Duration
	Multiplier  float64
}

func DefaultPolicy() Policy {
	return Policy{
		Limit:       3,
		MinInterval: 1 * time.Second,
		MaxInterval: 30 * time.Second,
		Multiplier:  2,
	}
}

// Backoff returns the wait before retry n (0-based).
func (p Policy) Backoff(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.MinInterval) * math.Pow(mult, float64(n))
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(d)
}

// Notify is called before each backoff sleep.
type Notify func(attempt int, delay time.Duration, err error)

// Do runs fn until it succeeds, returns a permanent error, the retry limit is
// reached or ctx is done. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error, notify Notify) (int, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if IsPermanent(err) {
			return attempt, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		lastErr = err

		if attempt > p.Limit {
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, lastErr)
		}

		delay := p.Backoff(attempt - 1)
		if notify != nil {
			notify(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}
