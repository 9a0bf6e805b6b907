package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"TubeDigest/internal/domain"
)

func TestRetryOnlyNetworkErrors(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 1}

	calls := 0
	err := policy.Do(context.Background(), func(int) error {
		calls++
		return errors.New("permanent")
	})
	if err == nil || calls != 1 {
		t.Fatalf("non-network error must fail on first attempt, calls=%d err=%v", calls, err)
	}

	calls = 0
	err = policy.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 3 {
			return fmt.Errorf("%w: flaky", domain.ErrNetwork)
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected recovery on third attempt, calls=%d err=%v", calls, err)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond, Multiplier: 1}

	calls := 0
	err := policy.Do(context.Background(), func(int) error {
		calls++
		return fmt.Errorf("%w: still down", domain.ErrNetwork)
	})
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("exhausted retry must return the last error, got %v", err)
	}
}
