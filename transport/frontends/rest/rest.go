// Package rest serves a transport.ModelServer over HTTP
// with JSON bodies.
//
//	POST /inference   body: JSON number   200: JSON number
//	POST /training    body: JSON number   200: empty
//	GET  /parameters  200: {"revision": n, "parameters": [...]}
//	GET  /healthz     200: ok, 503 once the store is poisoned
//	GET  /metrics     prometheus text format
package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/omlserver/oml/transport"
	"github.com/omlserver/oml/transport/frontends"
	"go.uber.org/zap"
)

const (
	// ShutdownTimeoutOption is the frontends.Options.Options
	// key for the time.Duration that Stop waits for in-flight
	// requests
	ShutdownTimeoutOption = "shutdown_timeout"
	// DefaultShutdownTimeout is used if no shutdown
	// timeout option is set
	DefaultShutdownTimeout = 30 * time.Second
)

var _ frontends.Frontend = (*Frontend)(nil)

// Frontend is an implementation of
// frontends.Frontend for REST
type Frontend struct {
	logger          *zap.Logger
	server          transport.ModelServer
	httpServer      *http.Server
	shutdownTimeout time.Duration
	mu              sync.Mutex
	stopped         bool
}

// Init initializes the frontend
func (frontend *Frontend) Init(options frontends.Options) error {
	if options.Server == nil {
		return fmt.Errorf("\"server\" is required")
	}

	frontend.logger = options.ZapLogger().With(zap.String("frontend", "rest"))
	frontend.server = options.Server
	frontend.shutdownTimeout = DefaultShutdownTimeout

	if timeout, ok := options.Options[ShutdownTimeoutOption]; ok {
		d, ok := timeout.(time.Duration)

		if !ok {
			return fmt.Errorf("%q must be a time.Duration, got %T", ShutdownTimeoutOption, timeout)
		}

		frontend.shutdownTimeout = d
	}

	frontend.httpServer = &http.Server{
		Handler:           NewHandler(frontend.server, options.Gatherer, frontend.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

// Listen accepts connections from this listener
func (frontend *Frontend) Listen(listener net.Listener) error {
	frontend.mu.Lock()

	if frontend.stopped {
		frontend.mu.Unlock()

		return nil
	}

	frontend.mu.Unlock()

	frontend.logger.Info("listening", zap.String("address", listener.Addr().String()))

	if err := frontend.httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop stops accepting connections from listeners and causes
// all calls to Listen to return. In-flight requests are given
// the shutdown timeout to complete.
func (frontend *Frontend) Stop() error {
	frontend.mu.Lock()
	frontend.stopped = true
	frontend.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), frontend.shutdownTimeout)
	defer cancel()

	if err := frontend.httpServer.Shutdown(ctx); err != nil {
		frontend.logger.Warn("graceful shutdown did not complete", zap.Error(err))

		return frontend.httpServer.Close()
	}

	return nil
}
