package transport

import (
	"context"
	"fmt"
)

// Faulted stands in for a radio that failed to initialize. It never delivers
// anything, so the controller keeps running without outbound control.
type Faulted struct {
	cause error
}

// NewFaulted wraps the initialization failure.
func NewFaulted(cause error) *Faulted {
	return &Faulted{cause: cause}
}

// Cause returns the original initialization error.
func (f *Faulted) Cause() error {
	return f.cause
}

// Send always fails with ErrHardwareFault.
func (f *Faulted) Send(context.Context, []byte) error {
	return fmt.Errorf("%w: %v", ErrHardwareFault, f.cause)
}

// TryReceive never returns a frame.
func (f *Faulted) TryReceive() ([]byte, bool) {
	return nil, false
}

// Connected is always false.
func (f *Faulted) Connected() bool {
	return false
}

// Close is a no-op.
func (f *Faulted) Close() error {
	return nil
}
