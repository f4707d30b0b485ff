package shutdown

import (
	"context"
	"io"
)

// ServerShutdowner is implemented by the HTTP API server.
type ServerShutdowner interface {
	Shutdown(ctx context.Context) error
}

// ServerComponent wraps a server with a context-aware Shutdown.
type ServerComponent struct {
	name   string
	server ServerShutdowner
}

// NewServerComponent creates a new server shutdown component.
func NewServerComponent(name string, server ServerShutdowner) *ServerComponent {
	return &ServerComponent{name: name, server: server}
}

// Name returns the component name.
func (c *ServerComponent) Name() string {
	return c.name
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (c *ServerComponent) Shutdown(ctx context.Context) error {
	return c.server.Shutdown(ctx)
}

// CloserComponent wraps an io.Closer for graceful shutdown.
type CloserComponent struct {
	name   string
	closer io.Closer
}

// NewCloserComponent creates a new closer shutdown component.
func NewCloserComponent(name string, closer io.Closer) *CloserComponent {
	return &CloserComponent{name: name, closer: closer}
}

// Name returns the component name.
func (c *CloserComponent) Name() string {
	return c.name
}

// Shutdown closes the underlying resource.
func (c *CloserComponent) Shutdown(context.Context) error {
	return c.closer.Close()
}

// FuncComponent wraps a shutdown function as a component.
type FuncComponent struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncComponent creates a new function-based shutdown component.
func NewFuncComponent(name string, fn func(ctx context.Context) error) *FuncComponent {
	return &FuncComponent{name: name, fn: fn}
}

// Name returns the component name.
func (c *FuncComponent) Name() string {
	return c.name
}

// Shutdown calls the wrapped function.
func (c *FuncComponent) Shutdown(ctx context.Context) error {
	return c.fn(ctx)
}

// GRPCServerShutdowner is the interface for gRPC servers that can be gracefully stopped.
type GRPCServerShutdowner interface {
	GracefulStop()
}

// NewGRPCServerComponent wraps a gRPC server. GracefulStop is abandoned at the deadline.
func NewGRPCServerComponent(name string, server GRPCServerShutdowner) *FuncComponent {
	return NewFuncComponent(name, func(ctx context.Context) error {
		return waitCtx(ctx, server.GracefulStop)
	})
}

// WorkerShutdowner is the interface for background loops that can be stopped.
type WorkerShutdowner interface {
	Stop()
}

// NewWorkerComponent wraps a worker whose Stop waits for its goroutines.
func NewWorkerComponent(name string, worker WorkerShutdowner) *FuncComponent {
	return NewFuncComponent(name, func(ctx context.Context) error {
		return waitCtx(ctx, worker.Stop)
	})
}

// waitCtx runs fn and returns when it finishes or ctx ends, whichever is first.
func waitCtx(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
