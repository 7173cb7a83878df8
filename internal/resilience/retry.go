package resilience

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures Retry.
type Policy struct {
	MaxRetries int           // Retries after the first attempt
	BaseDelay  time.Duration // Delay before the first retry
	MaxDelay   time.Duration // Upper bound for the exponential delay
	Classifier Classifier    // Defaults to Classify

	// Notify is called before every sleep with the failure and the delay.
	Notify func(err error, delay time.Duration)

	timer backoff.Timer // Replaced in tests
}

// DefaultPolicy returns 3 retries starting at 1s, capped at 60s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
	}
}

// RetryExhaustedError is returned once every allowed attempt failed with a
// transient error.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Retry runs op until it succeeds, fails permanently, or runs out of retries.
// A permanent failure is returned as is, without sleeping.
// Sleeps end early when ctx is cancelled, in which case the context error is
// returned wrapped with the last failure.
func Retry(ctx context.Context, op func(ctx context.Context) error, p Policy) error {
	classify := p.Classifier
	if classify == nil {
		classify = Classify
	}

	attempts := 0
	var lastErr error
	permanent := false

	operation := func() error {
		if err := ctx.Err(); err != nil {
			permanent = true
			return backoff.Permanent(err)
		}

		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if classify(err) == Permanent {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	var b backoff.BackOff = &exponentialJitter{base: p.BaseDelay, max: p.MaxDelay}
	if p.MaxRetries <= 0 {
		b = &backoff.StopBackOff{}
	} else {
		b = backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}
	b = backoff.WithContext(b, ctx)

	var notify backoff.Notify
	if p.Notify != nil {
		notify = p.Notify
	}

	err := backoff.RetryNotifyWithTimer(operation, b, notify, p.timer)
	if err == nil {
		return nil
	}
	if permanent {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if lastErr == nil {
			return ctxErr
		}
		return fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
	}
	return &RetryExhaustedError{Attempts: attempts, Err: lastErr}
}

// Do is Retry for operations that produce a value.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, p)
	return result, err
}

// exponentialJitter yields min(base*2^n, max) plus up to 10% jitter.
type exponentialJitter struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

func (e *exponentialJitter) NextBackOff() time.Duration {
	d := Delay(e.base, e.max, e.attempt)
	e.attempt++
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Float64()*0.1*float64(d))
}

func (e *exponentialJitter) Reset() {
	e.attempt = 0
}

// Delay returns the un-jittered delay before retry number attempt (0-based).
func Delay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if max > 0 && d >= max {
			break
		}
		d *= 2
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}
