// Package retry provides bounded retry with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

// RetryStrategy defines retry behavior.
type RetryStrategy struct {
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts"`
	BackoffDuration time.Duration `json:"backoff_duration" yaml:"backoff_duration"` // Wait before the second attempt
	MaxBackoff      time.Duration `json:"max_backoff" yaml:"max_backoff"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier"`
}

// DefaultRetryStrategy returns the default retry strategy for pump commands.
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		MaxAttempts:     3,
		BackoffDuration: 200 * time.Millisecond,
		MaxBackoff:      2 * time.Second,
		Multiplier:      2,
	}
}

// Attempt describes a failed attempt, passed to the retry callback.
type Attempt struct {
	Number  int
	Err     error
	Backoff time.Duration
}

// Manager runs operations under a retry strategy.
type Manager struct {
	strategy  *RetryStrategy
	retryable func(error) bool
	sleep     func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff wait.
	OnRetry func(a Attempt)
}

// ManagerOption is a functional option for configuring the Manager.
type ManagerOption func(*Manager)

// WithRetryStrategy sets a custom retry strategy.
func WithRetryStrategy(strategy *RetryStrategy) ManagerOption {
	return func(m *Manager) {
		m.strategy = strategy
	}
}

// WithRetryable sets the predicate deciding which errors are retried.
func WithRetryable(fn func(error) bool) ManagerOption {
	return func(m *Manager) {
		m.retryable = fn
	}
}

// WithRetryCallback sets the callback invoked before each retry.
func WithRetryCallback(fn func(Attempt)) ManagerOption {
	return func(m *Manager) {
		m.OnRetry = fn
	}
}

// WithSleeper replaces the backoff wait. Tests use it to avoid real delays.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) ManagerOption {
	return func(m *Manager) {
		m.sleep = fn
	}
}

// NewManager creates a new retry manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		strategy:  DefaultRetryStrategy(),
		retryable: func(err error) bool { return err != nil },
		sleep:     sleepContext,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.strategy.MaxAttempts < 1 {
		m.strategy.MaxAttempts = 1
	}
	if m.strategy.Multiplier < 1 {
		m.strategy.Multiplier = 1
	}

	return m
}

// GetMaxAttempts returns the maximum number of attempts.
func (m *Manager) GetMaxAttempts() int {
	return m.strategy.MaxAttempts
}

// Backoff returns the wait after the given failed attempt (1-based).
func (m *Manager) Backoff(attempt int) time.Duration {
	d := m.strategy.BackoffDuration
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * m.strategy.Multiplier)
		if m.strategy.MaxBackoff > 0 && d >= m.strategy.MaxBackoff {
			return m.strategy.MaxBackoff
		}
	}
	if m.strategy.MaxBackoff > 0 && d > m.strategy.MaxBackoff {
		return m.strategy.MaxBackoff
	}
	return d
}

// Do calls fn until it succeeds, fails with a non-retryable error, the attempts
// run out, or ctx is done. It returns the number of attempts made.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= m.strategy.MaxAttempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if !m.retryable(lastErr) {
			return attempt, fmt.Errorf("%w: %w", ErrNonRetryableError, lastErr)
		}
		if attempt == m.strategy.MaxAttempts {
			break
		}

		backoff := m.Backoff(attempt)
		if m.OnRetry != nil {
			m.OnRetry(Attempt{Number: attempt, Err: lastErr, Backoff: backoff})
		}
		if err := m.sleep(ctx, backoff); err != nil {
			return attempt, fmt.Errorf("retry aborted after %d attempts: %w", attempt, lastErr)
		}
	}
	return m.strategy.MaxAttempts, fmt.Errorf("%w (%d): %w", ErrMaxRetriesExceeded, m.strategy.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
