// Package shutdown coordinates an orderly stop of the controller's components
// on SIGTERM or SIGINT.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout is the default graceful shutdown timeout.
const DefaultTimeout = 30 * time.Second

// Component represents a component that can be gracefully shut down.
type Component interface {
	// Name returns the component name for logging.
	Name() string
	// Shutdown gracefully shuts down the component.
	// It should return within the given context deadline.
	Shutdown(ctx context.Context) error
}

// Coordinator stops registered components one at a time, last registered
// first, under a single deadline.
type Coordinator struct {
	components []Component
	timeout    time.Duration
	logger     *slog.Logger
	mu         sync.Mutex

	signalCh chan os.Signal

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	exitCode     int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the shutdown timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithSignalChannel sets a custom signal channel (for testing).
func WithSignalChannel(ch chan os.Signal) Option {
	return func(c *Coordinator) {
		c.signalCh = ch
	}
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout:      DefaultTimeout,
		logger:       slog.Default(),
		shutdownDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a component. Components are shut down in reverse order of
// registration, so register dependencies before their dependents.
func (c *Coordinator) Register(component Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component)
	c.logger.Debug("registered shutdown component", "name", component.Name())
}

// WaitForSignal blocks until SIGTERM, SIGINT or ctx is done, then shuts down.
func (c *Coordinator) WaitForSignal(ctx context.Context) {
	sigCh := c.signalCh
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	select {
	case sig := <-sigCh:
		c.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		c.logger.Info("shutdown requested", "reason", context.Cause(ctx))
	}

	c.Shutdown()
}

// Shutdown stops every registered component. Only the first call does work.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		defer close(c.shutdownDone)
		c.logger.Info("initiating graceful shutdown", "timeout", c.timeout)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		components := make([]Component, len(c.components))
		copy(components, c.components)
		c.mu.Unlock()

		for i := len(components) - 1; i >= 0; i-- {
			comp := components[i]
			start := time.Now()
			if err := comp.Shutdown(ctx); err != nil {
				c.logger.Error("component shutdown error", "name", comp.Name(), "error", err)
			} else {
				c.logger.Info("component shutdown complete", "name", comp.Name(), "duration", time.Since(start))
			}
		}

		if ctx.Err() != nil {
			c.logger.Warn("shutdown timeout exceeded, forcing termination")
			c.exitCode = 1
			return
		}
		c.logger.Info("all components shut down successfully")
	})
}

// Wait blocks until shutdown is complete.
func (c *Coordinator) Wait() {
	<-c.shutdownDone
}

// ExitCode returns 0 after a clean shutdown and 1 when the deadline passed.
func (c *Coordinator) ExitCode() int {
	c.Wait()
	return c.exitCode
}
