package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var errFlaky = errors.New("flaky")

func noSleep(context.Context, time.Duration) error { return nil }

// **Feature: tower-controller, Property 9: Retry termination**
// For any strategy with MaxAttempts = N, an always-failing operation is called
// exactly N times and the final error wraps both the sentinel and the cause.
func TestRetryTermination(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("attempts never exceed MaxAttempts", prop.ForAll(
		func(maxAttempts int) bool {
			m := NewManager(
				WithRetryStrategy(&RetryStrategy{MaxAttempts: maxAttempts, BackoffDuration: time.Millisecond, Multiplier: 2}),
				WithSleeper(noSleep),
			)
			calls := 0
			n, err := m.Do(context.Background(), func(context.Context, int) error {
				calls++
				return errFlaky
			})
			return calls == maxAttempts && n == maxAttempts &&
				errors.Is(err, ErrMaxRetriesExceeded) && errors.Is(err, errFlaky)
		},
		gen.IntRange(1, 10),
	))

	properties.Property("success stops retrying", prop.ForAll(
		func(maxAttempts, succeedOn int) bool {
			m := NewManager(
				WithRetryStrategy(&RetryStrategy{MaxAttempts: maxAttempts, BackoffDuration: time.Millisecond, Multiplier: 2}),
				WithSleeper(noSleep),
			)
			n, err := m.Do(context.Background(), func(_ context.Context, attempt int) error {
				if attempt >= succeedOn {
					return nil
				}
				return errFlaky
			})
			if succeedOn <= maxAttempts {
				return err == nil && n == succeedOn
			}
			return err != nil && n == maxAttempts
		},
		gen.IntRange(1, 6),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

func TestNonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	m := NewManager(
		WithRetryable(func(err error) bool { return !errors.Is(err, fatal) }),
		WithSleeper(noSleep),
	)
	n, err := m.Do(context.Background(), func(context.Context, int) error { return fatal })
	if n != 1 {
		t.Fatalf("expected 1 attempt, got %d", n)
	}
	if !errors.Is(err, ErrNonRetryableError) || !errors.Is(err, fatal) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	m := NewManager(WithRetryStrategy(&RetryStrategy{
		MaxAttempts:     5,
		BackoffDuration: 100 * time.Millisecond,
		MaxBackoff:      300 * time.Millisecond,
		Multiplier:      2,
	}))
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := m.Backoff(i + 1); got != w {
			t.Errorf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestRetryCallbackSeesEachFailure(t *testing.T) {
	var seen []int
	m := NewManager(
		WithSleeper(noSleep),
		WithRetryCallback(func(a Attempt) { seen = append(seen, a.Number) }),
	)
	m.Do(context.Background(), func(context.Context, int) error { return errFlaky })
	if len(seen) != m.GetMaxAttempts()-1 {
		t.Fatalf("expected %d callbacks, got %v", m.GetMaxAttempts()-1, seen)
	}
}

func TestCancelledContextAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewManager()
	n, err := m.Do(ctx, func(context.Context, int) error { return errFlaky })
	if n != 1 || !errors.Is(err, errFlaky) {
		t.Fatalf("expected abort after first attempt, got %d %v", n, err)
	}
}
