package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/errors"
)

// ErrRetriesExhausted marks an error returned after every attempt failed retryably
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryableError is the only error class that triggers another attempt.
// Transports return it for throttling, timeouts and unavailable services;
// the decoder returns it for envelopes with a non-200 status.
type RetryableError struct {
	Reason string
	Status int // HTTP or envelope status, 0 when not applicable
	Err    error
}

func (e *RetryableError) Error() string {
	msg := e.Reason
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *RetryableError) Unwrap() error { return e.Err }

// NewRetryableError wraps err (which may be nil) as retryable
func NewRetryableError(reason string, err error) *RetryableError {
	return &RetryableError{Reason: reason, Err: err}
}

// IsRetryable reports whether err is or wraps a *RetryableError
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// RetryPolicy bounds how an agent call is retried.
// The delay before retry n (1-based) is min(BaseDelay*2^(n-1), MaxDelay).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool

	// OnRetry is called before sleeping, with the failed attempt number
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns six attempts with delays doubling from 10s, capped at 15m
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: am.DefaultRetryMaxAttempts,
		BaseDelay:   time.Duration(am.DefaultRetryBaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(am.DefaultRetryMaxDelayMS) * time.Millisecond,
		Retryable:   IsRetryable,
	}
}

// PolicyFromConfig builds a policy from the retry section of the config
func PolicyFromConfig(cfg am.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = cfg.MaxAttempts
	p.BaseDelay = cfg.BaseDelay()
	p.MaxDelay = cfg.MaxDelay()
	return p
}

// Delay returns the wait before the given retry (1 = first retry)
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < retry; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable == nil {
		return IsRetryable(err)
	}
	return p.Retryable(err)
}

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or
// policy.MaxAttempts calls have failed retryably. In the last case the
// returned error is marked with ErrRetriesExhausted and wraps the last failure.
func Retry[T any](ctx context.Context, policy RetryPolicy, sleep Sleeper, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if sleep == nil {
		sleep = SleepContext
	}

	maxAttempts := policy.attempts()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		if !policy.retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, errors.WithSecondaryError(errors.Wrap(err, "retry wait interrupted"), lastErr)
		}
	}

	return zero, errors.Wrapf(errors.Mark(lastErr, ErrRetriesExhausted), "giving up after %d attempts", maxAttempts)
}
