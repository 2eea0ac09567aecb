// Package server wires the parameter store, a compute step
// and the dispatcher into the context shared by every
// request, and runs the frontends that expose it.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omlserver/oml/algorithm"
	"github.com/omlserver/oml/dispatcher"
	"github.com/omlserver/oml/model"
	"github.com/omlserver/oml/storage/checkpoint"
	"github.com/omlserver/oml/transport"
	"github.com/omlserver/oml/utils/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var _ transport.ModelServer = (*Server)(nil)

// Config contains configuration
// for a server
type Config struct {
	Logger *zap.Logger
	// Parameters is the initial model. It is ignored if
	// Checkpoints holds a checkpoint.
	Parameters []float64
	Algorithm  algorithm.Algorithm
	Workers    int
	QueueSize  int
	// RequestTimeout bounds how long a request waits for its
	// step. Zero means no limit beyond the caller's context.
	RequestTimeout time.Duration
	History        int
	// Checkpoints is optional. The server loads the latest
	// checkpoint at creation and saves one on Close.
	Checkpoints *checkpoint.Store
	// CheckpointEvery saves a checkpoint after this many
	// successful training steps. Zero disables it.
	CheckpointEvery int
	// Registerer is optional
	Registerer prometheus.Registerer
}

// Server is the explicitly constructed process state: one
// parameter store, one compute step and one dispatcher shared
// by every request for the lifetime of the server.
type Server struct {
	logger          *zap.Logger
	store           *model.Store
	algorithm       algorithm.Algorithm
	dispatcher      *dispatcher.Dispatcher
	requestTimeout  time.Duration
	checkpoints     *checkpoint.Store
	checkpointEvery int64
	trainings       atomic.Int64
	checkpointMu    sync.Mutex
	checkpointed    int64
	closeOnce       sync.Once
	closeErr        error
}

// New creates a server and starts its dispatcher
func New(config Config) (*Server, error) {
	if config.Algorithm == nil {
		return nil, fmt.Errorf("\"algorithm\" is required")
	}

	server := &Server{
		logger:          config.Logger,
		algorithm:       config.Algorithm,
		requestTimeout:  config.RequestTimeout,
		checkpoints:     config.Checkpoints,
		checkpointEvery: int64(config.CheckpointEvery),
	}

	if server.logger == nil {
		server.logger = zap.L()
	}

	storeConfig := model.StoreConfig{
		Logger:     server.logger,
		Parameters: config.Parameters,
		History:    config.History,
	}

	if server.checkpoints != nil {
		latest, err := server.checkpoints.Latest()

		switch {
		case err == nil:
			server.logger.Info("restoring checkpoint", zap.Int64("revision", latest.Revision), zap.Int("parameters", len(latest.Parameters)))
			storeConfig.Parameters = latest.Parameters
			storeConfig.Revision = latest.Revision
			server.checkpointed = latest.Revision
		case errors.Is(err, checkpoint.ErrNoCheckpoint):
			server.logger.Info("no checkpoint found, starting from configured parameters")
		default:
			return nil, fmt.Errorf("could not load checkpoint: %w", err)
		}
	}

	var metrics *dispatcher.Metrics

	if config.Registerer != nil {
		metrics = dispatcher.NewMetrics(config.Registerer)
	}

	server.store = model.New(storeConfig)
	server.dispatcher = dispatcher.New(dispatcher.Config{
		Logger:    server.logger,
		Workers:   config.Workers,
		QueueSize: config.QueueSize,
		Metrics:   metrics,
	})
	server.dispatcher.Start()

	return server, nil
}

// Store returns the parameter store
func (server *Server) Store() *model.Store {
	return server.store
}

// Infer implements transport.ModelServer.Infer
func (server *Server) Infer(ctx context.Context, x float64) (float64, error) {
	ctx, cancel := server.withTimeout(ctx)
	defer cancel()

	outcome, err := server.dispatcher.Submit(ctx, dispatcher.Request{
		Store:     server.store,
		Algorithm: server.algorithm,
		Input:     x,
		Kind:      algorithm.Infer,
	})

	if err != nil {
		return 0, err
	}

	return outcome.Value, nil
}

// Train implements transport.ModelServer.Train
func (server *Server) Train(ctx context.Context, x float64) error {
	ctx, cancel := server.withTimeout(ctx)
	defer cancel()

	_, err := server.dispatcher.Submit(ctx, dispatcher.Request{
		Store:     server.store,
		Algorithm: server.algorithm,
		Input:     x,
		Kind:      algorithm.Train,
	})

	if err != nil {
		return err
	}

	if server.checkpoints != nil && server.checkpointEvery > 0 && server.trainings.Add(1)%server.checkpointEvery == 0 {
		// The training step itself succeeded. A failed
		// checkpoint is reported in the log only.
		if err := server.Checkpoint(); err != nil {
			logger, _ := log.LoggerFromContext(ctx, server.logger)
			log.WithContext(ctx, logger).Error("could not save periodic checkpoint", zap.Error(err))
		}
	}

	return nil
}

// Parameters implements transport.ModelServer.Parameters.
// Revisions older than the configured history are compacted.
func (server *Server) Parameters(ctx context.Context, revision int64) (*model.Snapshot, error) {
	if revision == 0 {
		return server.store.Read()
	}

	return server.store.ReadRevision(revision)
}

// Healthy implements transport.ModelServer.Healthy
func (server *Server) Healthy() bool {
	return !server.store.Poisoned()
}

// Checkpoint saves the current snapshot unless it was
// already saved. It does nothing if checkpointing is disabled.
func (server *Server) Checkpoint() error {
	if server.checkpoints == nil {
		return nil
	}

	snapshot, err := server.store.Read()

	if err != nil {
		return fmt.Errorf("could not read parameters: %w", err)
	}

	server.checkpointMu.Lock()
	defer server.checkpointMu.Unlock()

	if snapshot.Revision() <= server.checkpointed {
		return nil
	}

	if err := server.checkpoints.Save(snapshot); err != nil {
		return err
	}

	server.checkpointed = snapshot.Revision()
	server.logger.Info("saved checkpoint", zap.Int64("revision", snapshot.Revision()))

	return nil
}

// Close stops the dispatcher after it finishes accepted
// requests, then saves a final checkpoint. Close does not
// close the checkpoint store.
func (server *Server) Close() error {
	server.closeOnce.Do(func() {
		server.dispatcher.Stop()
		server.closeErr = server.Checkpoint()
	})

	return server.closeErr
}

func (server *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if server.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, server.requestTimeout)
}
