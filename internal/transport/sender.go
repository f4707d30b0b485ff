package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/narvanalabs/tower-controller/internal/retry"
)

// SendResult describes how a frame was delivered.
type SendResult struct {
	Attempts int
	Duration time.Duration
}

// Sender wraps a Transport with a per-attempt deadline and bounded retry.
type Sender struct {
	transport Transport
	timeout   time.Duration
	retry     *retry.Manager
	logger    *slog.Logger
}

// NewSender creates a Sender. A nil manager sends each frame once.
func NewSender(t Transport, timeout time.Duration, mgr *retry.Manager, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if mgr == nil {
		mgr = retry.NewManager(retry.WithRetryStrategy(&retry.RetryStrategy{MaxAttempts: 1}))
	}
	return &Sender{transport: t, timeout: timeout, retry: mgr, logger: logger}
}

// Transport returns the wrapped transport.
func (s *Sender) Transport() Transport {
	return s.transport
}

// Send makes one attempt bounded by the configured timeout.
func (s *Sender) Send(ctx context.Context, frame []byte) error {
	return SendWithTimeout(ctx, s.transport, frame, s.timeout)
}

// SendReliable retries retryable failures with backoff.
func (s *Sender) SendReliable(ctx context.Context, frame []byte) (SendResult, error) {
	start := time.Now()
	attempts, err := s.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		err := s.Send(ctx, frame)
		if err != nil && attempt < s.retry.GetMaxAttempts() && Retryable(err) {
			s.logger.Debug("frame send failed, retrying", "attempt", attempt, "error", err)
		}
		return err
	})
	return SendResult{Attempts: attempts, Duration: time.Since(start)}, err
}

// NewPumpRetryManager builds the retry manager used for pump commands.
func NewPumpRetryManager(strategy *retry.RetryStrategy, onRetry func(retry.Attempt)) *retry.Manager {
	opts := []retry.ManagerOption{retry.WithRetryable(Retryable)}
	if strategy != nil {
		opts = append(opts, retry.WithRetryStrategy(strategy))
	}
	if onRetry != nil {
		opts = append(opts, retry.WithRetryCallback(onRetry))
	}
	return retry.NewManager(opts...)
}
