package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Loopback is an in-memory transport endpoint. Two endpoints created by
// NewLoopbackPair deliver to each other.
type Loopback struct {
	inbox  chan []byte
	peer   *Loopback
	closed atomic.Bool

	mu       sync.Mutex
	sendHook func(frame []byte) error
}

// NewLoopbackPair creates two connected endpoints, each with a receive buffer of size buffer.
func NewLoopbackPair(buffer int) (*Loopback, *Loopback) {
	if buffer <= 0 {
		buffer = 16
	}
	a := &Loopback{inbox: make(chan []byte, buffer)}
	b := &Loopback{inbox: make(chan []byte, buffer)}
	a.peer, b.peer = b, a
	return a, b
}

// SetSendHook installs a function run before each send. A non-nil return fails the send.
func (l *Loopback) SetSendHook(fn func(frame []byte) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendHook = fn
}

// Send delivers the frame to the peer, waiting for buffer space until ctx expires.
func (l *Loopback) Send(ctx context.Context, frame []byte) error {
	if l.closed.Load() || l.peer.closed.Load() {
		return ErrClosed
	}

	l.mu.Lock()
	hook := l.sendHook
	l.mu.Unlock()
	if hook != nil {
		if err := hook(frame); err != nil {
			return err
		}
	}

	msg := append([]byte(nil), frame...)
	select {
	case l.peer.inbox <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

// TryReceive returns the next pending frame if there is one.
func (l *Loopback) TryReceive() ([]byte, bool) {
	select {
	case msg := <-l.inbox:
		return msg, true
	default:
		return nil, false
	}
}

// Receive blocks until a frame arrives or ctx is done. Used by simulated nodes.
func (l *Loopback) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-l.inbox:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connected reports whether both endpoints are open.
func (l *Loopback) Connected() bool {
	return !l.closed.Load() && !l.peer.closed.Load()
}

// Close marks the endpoint closed.
func (l *Loopback) Close() error {
	l.closed.Store(true)
	return nil
}
