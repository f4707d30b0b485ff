package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/narvanalabs/tower-controller/internal/retry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoopbackDeliversToPeer(t *testing.T) {
	a, b := NewLoopbackPair(4)
	if err := a.Send(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, ok := b.TryReceive()
	if !ok || len(got) != 3 {
		t.Fatalf("expected frame at peer, got %v %v", got, ok)
	}
	if _, ok := b.TryReceive(); ok {
		t.Fatal("TryReceive returned more than one frame")
	}
	if _, ok := a.TryReceive(); ok {
		t.Fatal("frame looped back to sender")
	}
}

func TestSendWithTimeoutSurfacesTimeout(t *testing.T) {
	a, _ := NewLoopbackPair(1)
	// Fill the peer buffer so the next send blocks.
	if err := a.Send(context.Background(), []byte{1}); err != nil {
		t.Fatalf("first send: %v", err)
	}

	start := time.Now()
	err := SendWithTimeout(context.Background(), a, []byte{2}, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("send did not respect its deadline")
	}
}

func TestSendWithTimeoutRejectsOversizeFrame(t *testing.T) {
	a, _ := NewLoopbackPair(1)
	err := SendWithTimeout(context.Background(), a, make([]byte, MaxFrameSize+1), time.Second)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFaultedTransport(t *testing.T) {
	f := NewFaulted(errors.New("spi init failed"))
	if err := f.Send(context.Background(), []byte{1}); !errors.Is(err, ErrHardwareFault) {
		t.Fatalf("expected ErrHardwareFault, got %v", err)
	}
	if _, ok := f.TryReceive(); ok {
		t.Fatal("faulted transport returned a frame")
	}
	if f.Connected() {
		t.Fatal("faulted transport reports connected")
	}
}

func TestSenderRetriesTransientFailures(t *testing.T) {
	a, b := NewLoopbackPair(4)
	failures := 2
	a.SetSendHook(func([]byte) error {
		if failures > 0 {
			failures--
			return ErrTransport
		}
		return nil
	})

	mgr := NewPumpRetryManager(&retry.RetryStrategy{MaxAttempts: 3, BackoffDuration: time.Millisecond, Multiplier: 1}, nil)
	s := NewSender(a, 50*time.Millisecond, mgr, quietLogger())

	res, err := s.SendReliable(context.Background(), []byte{9, 0x10, 1, 1})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
	if _, ok := b.TryReceive(); !ok {
		t.Fatal("frame not delivered")
	}
}

func TestSenderDoesNotRetryHardwareFault(t *testing.T) {
	calls := 0
	f := &countingTransport{Transport: NewFaulted(errors.New("no radio")), calls: &calls}
	mgr := NewPumpRetryManager(&retry.RetryStrategy{MaxAttempts: 5, BackoffDuration: time.Millisecond, Multiplier: 1}, nil)
	s := NewSender(f, 10*time.Millisecond, mgr, quietLogger())

	res, err := s.SendReliable(context.Background(), []byte{1, 0x10, 1, 0})
	if !errors.Is(err, ErrHardwareFault) {
		t.Fatalf("expected ErrHardwareFault, got %v", err)
	}
	if calls != 1 || res.Attempts != 1 {
		t.Fatalf("hardware fault was retried: %d calls", calls)
	}
}

func TestSenderGivesUpAfterMaxAttempts(t *testing.T) {
	a, _ := NewLoopbackPair(1)
	a.SetSendHook(func([]byte) error { return ErrTransport })

	var retries []retry.Attempt
	mgr := NewPumpRetryManager(
		&retry.RetryStrategy{MaxAttempts: 3, BackoffDuration: time.Millisecond, Multiplier: 2},
		func(at retry.Attempt) { retries = append(retries, at) },
	)
	s := NewSender(a, 10*time.Millisecond, mgr, quietLogger())

	_, err := s.SendReliable(context.Background(), []byte{1, 0x10, 1, 1})
	if !errors.Is(err, retry.ErrMaxRetriesExceeded) || !errors.Is(err, ErrTransport) {
		t.Fatalf("unexpected error %v", err)
	}
	if len(retries) != 2 {
		t.Fatalf("expected 2 retry callbacks, got %d", len(retries))
	}
}

type countingTransport struct {
	Transport
	calls *int
}

func (c *countingTransport) Send(ctx context.Context, frame []byte) error {
	*c.calls++
	return c.Transport.Send(ctx, frame)
}
