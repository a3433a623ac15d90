// Package server runs the risk service HTTP server and shuts it down gracefully
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Shutdownable represents a component that can be gracefully shut down
type Shutdownable interface {
	Shutdown(ctx context.Context) error
	Name() string
}

// ShutdownFunc wraps a function to implement Shutdownable
type ShutdownFunc struct {
	name string
	fn   func(context.Context) error
}

// NewShutdownFunc creates a Shutdownable from a function
func NewShutdownFunc(name string, fn func(context.Context) error) *ShutdownFunc {
	return &ShutdownFunc{name: name, fn: fn}
}

// Name returns the component name
func (s *ShutdownFunc) Name() string {
	return s.name
}

// Shutdown calls the wrapped function
func (s *ShutdownFunc) Shutdown(ctx context.Context) error {
	return s.fn(ctx)
}

// Config holds configuration for graceful shutdown
type Config struct {
	Server          *http.Server
	Logger          *zap.Logger
	ShutdownTimeout time.Duration
	// ComponentTimeout bounds each component; defaults to 10s
	ComponentTimeout time.Duration
}

// GracefulShutdown serves HTTP until a signal or context cancellation, then drains
// the server and shuts registered components down in reverse registration order.
type GracefulShutdown struct {
	server           *http.Server
	logger           *zap.Logger
	shutdownTimeout  time.Duration
	componentTimeout time.Duration
	signals          chan os.Signal

	mu            sync.Mutex
	shutdownables []Shutdownable
	once          sync.Once
}

// New creates a new GracefulShutdown manager
func New(cfg Config) *GracefulShutdown {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ComponentTimeout <= 0 {
		cfg.ComponentTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &GracefulShutdown{
		server:           cfg.Server,
		logger:           cfg.Logger.With(zap.String("component", "server")),
		shutdownTimeout:  cfg.ShutdownTimeout,
		componentTimeout: cfg.ComponentTimeout,
		signals:          make(chan os.Signal, 1),
	}
}

// AddShutdownable registers a component. Components registered later are shut down first,
// so register stores before the things that write to them.
func (g *GracefulShutdown) AddShutdownable(s Shutdownable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shutdownables = append(g.shutdownables, s)
}

// AddShutdownFunc registers a shutdown function as a component
func (g *GracefulShutdown) AddShutdownFunc(name string, fn func(context.Context) error) {
	g.AddShutdownable(NewShutdownFunc(name, fn))
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM, ctx cancellation
// or a server failure, then performs the shutdown sequence.
// It returns the server error, if any, after shutdown completes.
func (g *GracefulShutdown) Run(ctx context.Context) error {
	signal.Notify(g.signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(g.signals)

	serveErr := make(chan error, 1)
	if g.server != nil {
		go func() {
			g.logger.Info(fmt.Sprintf("Server listening on %s", g.server.Addr))
			if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	var runErr error
	select {
	case sig := <-g.signals:
		g.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		g.logger.Info("Context cancelled, initiating shutdown")
	case runErr = <-serveErr:
		g.logger.Error("Server error", zap.Error(runErr))
	}

	g.Shutdown()
	return runErr
}

// Trigger requests a shutdown from inside the process
func (g *GracefulShutdown) Trigger() {
	select {
	case g.signals <- syscall.SIGTERM:
	default:
	}
}

// Shutdown drains the HTTP server and then stops components one at a time.
// It runs at most once.
func (g *GracefulShutdown) Shutdown() {
	g.once.Do(g.shutdown)
}

func (g *GracefulShutdown) shutdown() {
	g.logger.Info("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
	defer cancel()

	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Warn("HTTP server did not drain, forcing close", zap.Error(err))
			_ = g.server.Close()
		} else {
			g.logger.Info("HTTP server shutdown complete")
		}
	}

	g.mu.Lock()
	components := append([]Shutdownable(nil), g.shutdownables...)
	g.mu.Unlock()

	for i := len(components) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			g.logger.Warn("Shutdown timed out, skipping remaining components", zap.Int("remaining", i+1))
			break
		}
		g.stop(ctx, components[i])
	}

	g.logger.Info("Graceful shutdown complete")
}

func (g *GracefulShutdown) stop(ctx context.Context, s Shutdownable) {
	ctx, cancel := context.WithTimeout(ctx, g.componentTimeout)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		g.logger.Error("Error shutting down component",
			zap.String("name", s.Name()),
			zap.Error(err))
		return
	}
	g.logger.Info("Component shutdown complete", zap.String("name", s.Name()))
}

// Closer adapts anything with Close() error, such as the database clients
func Closer(name string, c interface{ Close() error }) Shutdownable {
	return NewShutdownFunc(name, func(context.Context) error {
		return c.Close()
	})
}

// CancelContext returns a Shutdownable that cancels a context, e.g. the threat intel refresher
func CancelContext(name string, cancel context.CancelFunc) Shutdownable {
	return NewShutdownFunc(name, func(context.Context) error {
		cancel()
		return nil
	})
}
