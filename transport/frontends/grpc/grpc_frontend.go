// Package grpc serves a transport.ModelServer as the
// oml.v1.Model gRPC service.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/omlserver/oml/transport/frontends"
	"github.com/omlserver/oml/utils/log"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var _ frontends.Frontend = (*Frontend)(nil)

// Frontend is an implementation of
// frontends.Frontend for the gRPC protocol
type Frontend struct {
	logger     *zap.Logger
	grpcServer *grpc.Server
}

// Init initializes the frontend
func (frontend *Frontend) Init(options frontends.Options) error {
	if options.Server == nil {
		return fmt.Errorf("\"server\" is required")
	}

	frontend.logger = options.ZapLogger().With(zap.String("frontend", "grpc"))
	frontend.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(frontend.logRequests))

	RegisterModelServiceServer(frontend.grpcServer, &ModelServer{server: options.Server})

	return nil
}

// Listen accepts connections from this listener
func (frontend *Frontend) Listen(listener net.Listener) error {
	frontend.logger.Info("listening", zap.String("address", listener.Addr().String()))

	if err := frontend.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}

	return nil
}

// Stop stops accepting connections from listeners and causes
// all calls to Listen to return. It waits for pending RPCs
// to finish.
func (frontend *Frontend) Stop() error {
	frontend.grpcServer.GracefulStop()

	return nil
}

func (frontend *Frontend) logRequests(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	ctx = log.WithLogger(ctx, frontend.logger)
	logger := log.WithContext(ctx, frontend.logger).With(zap.String("operation", info.FullMethod))
	logger.Debug("start")

	start := time.Now()
	resp, err := handler(ctx, req)

	logger.Debug("return", zap.Stringer("code", status.Code(err)), zap.Duration("elapsed", time.Since(start)))

	return resp, err
}
