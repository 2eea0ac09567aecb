package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/omlserver/oml/algorithm"
	"github.com/omlserver/oml/config"
	"github.com/omlserver/oml/server"
	"github.com/omlserver/oml/storage/checkpoint"
	"github.com/omlserver/oml/transport/frontends"
	grpcfrontend "github.com/omlserver/oml/transport/frontends/grpc"
	"github.com/omlserver/oml/transport/frontends/rest"
	"github.com/omlserver/oml/utils/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)

	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "omlserver: %s\n", err)

		return 2
	}

	logger, err := log.New(cfg.LogLevel, cfg.Development)

	if err != nil {
		fmt.Fprintf(os.Stderr, "omlserver: could not create logger: %s\n", err)

		return 1
	}

	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))

		return 1
	}

	logger.Info("server stopped")

	return 0
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	step, err := algorithm.New(cfg.Algorithm, algorithm.PluginOptions{
		Cost: algorithm.SleepCost(cfg.TrainingCost, cfg.InferenceCost),
	})

	if err != nil {
		return err
	}

	var checkpoints *checkpoint.Store

	if cfg.CheckpointPath != "" {
		checkpoints, err = checkpoint.Open(checkpoint.Config{
			Logger: logger,
			Path:   cfg.CheckpointPath,
			Retain: cfg.CheckpointRetain,
		})

		if err != nil {
			return err
		}

		defer checkpoints.Close()
	}

	serverConfig := server.Config{
		Logger:          logger,
		Parameters:      cfg.Parameters,
		Algorithm:       step,
		Workers:         cfg.Workers,
		QueueSize:       cfg.QueueSize,
		RequestTimeout:  cfg.RequestTimeout,
		History:         cfg.History,
		Checkpoints:     checkpoints,
		CheckpointEvery: cfg.CheckpointEvery,
	}

	options := frontends.Options{Logger: logger}

	if cfg.Metrics {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		serverConfig.Registerer = registry
		options.Gatherer = registry
	}

	s, err := server.New(serverConfig)

	if err != nil {
		return err
	}

	options.Server = s
	endpoints := []server.Endpoint{}

	addEndpoint := func(name string, address string, frontend frontends.Frontend) error {
		if address == "" {
			return nil
		}

		if err := frontend.Init(options); err != nil {
			return fmt.Errorf("could not initialize %s frontend: %w", name, err)
		}

		listener, err := net.Listen("tcp", address)

		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", address, err)
		}

		endpoints = append(endpoints, server.Endpoint{Name: name, Frontend: frontend, Listener: listener})

		return nil
	}

	if err := addEndpoint("rest", cfg.RESTAddress, &rest.Frontend{}); err != nil {
		s.Close()

		return err
	}

	if err := addEndpoint("grpc", cfg.GRPCAddress, &grpcfrontend.Frontend{}); err != nil {
		for _, endpoint := range endpoints {
			endpoint.Listener.Close()
		}

		s.Close()

		return err
	}

	logger.Info("server started", zap.Int("parameters", s.Store().Len()), zap.String("algorithm", cfg.Algorithm))

	return s.Run(ctx, endpoints...)
}
