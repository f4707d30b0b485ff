// Package transport moves raw radio frames between the controller and the tower nodes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MaxFrameSize is the largest frame any transport carries.
const MaxFrameSize = 32

// DefaultSendTimeout bounds a single send.
const DefaultSendTimeout = time.Second

// Transport errors.
var (
	// ErrTimeout is returned when a send does not complete before its deadline.
	ErrTimeout = errors.New("transport send timed out")

	// ErrTransport wraps any other send failure.
	ErrTransport = errors.New("transport error")

	// ErrHardwareFault is returned when the radio could not be initialized.
	ErrHardwareFault = errors.New("radio hardware fault")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport closed")

	// ErrFrameTooLarge is returned for frames over MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds transport maximum")
)

// Transport is the boundary to the radio link.
type Transport interface {
	// Send blocks until the frame is handed to the link or ctx expires.
	Send(ctx context.Context, frame []byte) error
	// TryReceive returns at most one pending frame without blocking.
	TryReceive() ([]byte, bool)
	// Connected reports whether the link is currently usable.
	Connected() bool
	// Close releases the link.
	Close() error
}

// SendWithTimeout sends a frame with an explicit deadline and maps deadline
// expiry to ErrTimeout.
func SendWithTimeout(ctx context.Context, t Transport, frame []byte, timeout time.Duration) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := t.Send(sendCtx, frame)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return err
}

// Retryable reports whether a send error may succeed on another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrHardwareFault) &&
		!errors.Is(err, ErrClosed) &&
		!errors.Is(err, ErrFrameTooLarge) &&
		!errors.Is(err, context.Canceled)
}
