package server

import (
	"context"
	"fmt"
	"net"

	"github.com/omlserver/oml/transport/frontends"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Endpoint pairs an initialized frontend
// with the listener it serves
type Endpoint struct {
	Name     string
	Frontend frontends.Frontend
	Listener net.Listener
}

// Run serves every endpoint until ctx is done or one of them
// fails. It then stops every frontend, which lets in-flight
// requests finish, and closes the server.
func (server *Server) Run(ctx context.Context, endpoints ...Endpoint) error {
	if len(endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}

	group, groupCtx := errgroup.WithContext(ctx)

	for _, endpoint := range endpoints {
		endpoint := endpoint
		group.Go(func() error {
			if err := endpoint.Frontend.Listen(endpoint.Listener); err != nil {
				return fmt.Errorf("%s frontend failed: %w", endpoint.Name, err)
			}

			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()

		server.logger.Info("stopping frontends")

		for _, endpoint := range endpoints {
			if err := endpoint.Frontend.Stop(); err != nil {
				server.logger.Error("could not stop frontend", zap.String("frontend", endpoint.Name), zap.Error(err))
			}
		}

		return nil
	})

	err := group.Wait()

	if closeErr := server.Close(); closeErr != nil {
		server.logger.Error("could not close server", zap.Error(closeErr))

		if err == nil {
			err = closeErr
		}
	}

	return err
}
