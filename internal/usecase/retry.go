package usecase

import (
	"context"
	"errors"
	"time"

	"TubeDigest/internal/domain"
)

// RetryPolicy bounds how often a stage re-attempts a transient failure.
// Only errors wrapping domain.ErrNetwork are retried; everything else is
// returned to the caller on the first attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy mirrors the bounded backoff used for acquisition and
// upload stages.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second, Multiplier: 2}
}

func (r RetryPolicy) normalized() RetryPolicy {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 1
	}
	if r.Multiplier <= 0 {
		r.Multiplier = 1
	}
	return r
}

// Do runs op until it succeeds, fails permanently, or attempts are exhausted.
// op receives the 1-based attempt number so callers can replay the stage's
// progress event before each try.
func (r RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	r = r.normalized()

	var err error
	delay := r.Backoff
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		if err = op(attempt); err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrNetwork) {
			return err
		}
		if attempt == r.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * r.Multiplier)
	}
	return err
}
