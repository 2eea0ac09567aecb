// Package config loads server configuration from command
// line flags, OML_ prefixed environment variables and an
// optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/omlserver/oml/algorithm"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is the prefix of environment
// variables read by Load
const EnvPrefix = "OML"

// keys
const (
	keyConfig           = "config"
	keyRESTAddress      = "rest-address"
	keyGRPCAddress      = "grpc-address"
	keyParameters       = "parameters"
	keyAlgorithm        = "algorithm"
	keyWorkers          = "workers"
	keyQueueSize        = "queue-size"
	keyRequestTimeout   = "request-timeout"
	keyTrainingCost     = "training-cost"
	keyInferenceCost    = "inference-cost"
	keyHistory          = "history"
	keyCheckpointPath   = "checkpoint-path"
	keyCheckpointEvery  = "checkpoint-every"
	keyCheckpointRetain = "checkpoint-retain"
	keyLogLevel         = "log-level"
	keyDevelopment      = "development"
	keyMetrics          = "metrics"
)

// ErrInvalid is wrapped by every validation error
var ErrInvalid = errors.New("invalid configuration")

// Config is the server configuration
type Config struct {
	// RESTAddress is the listen address of the REST
	// frontend. Empty disables it.
	RESTAddress string
	// GRPCAddress is the listen address of the gRPC
	// frontend. Empty disables it.
	GRPCAddress string
	// Parameters is the initial model. It is ignored when
	// a checkpoint exists.
	Parameters []float64
	Algorithm  string
	Workers    int
	QueueSize  int
	// RequestTimeout bounds how long a request waits for
	// its step. Zero means no limit.
	RequestTimeout time.Duration
	TrainingCost   time.Duration
	InferenceCost  time.Duration
	// History is the number of past snapshots kept
	History int
	// CheckpointPath enables checkpointing when set
	CheckpointPath string
	// CheckpointEvery saves a checkpoint after this many
	// successful training steps. Zero only saves on shutdown.
	CheckpointEvery  int
	CheckpointRetain int
	LogLevel         string
	Development      bool
	Metrics          bool
}

// Default returns the configuration used
// when nothing is overridden
func Default() Config {
	return Config{
		RESTAddress:      "127.0.0.1:8080",
		GRPCAddress:      "",
		Parameters:       []float64{1, 2},
		Algorithm:        algorithm.DummyName,
		Workers:          0,
		QueueSize:        0,
		RequestTimeout:   0,
		TrainingCost:     5 * time.Second,
		InferenceCost:    500 * time.Millisecond,
		History:          0,
		CheckpointPath:   "",
		CheckpointEvery:  0,
		CheckpointRetain: 3,
		LogLevel:         "info",
		Development:      false,
		Metrics:          true,
	}
}

// Flags returns a flag set describing every
// configuration key with its default
func Flags() *pflag.FlagSet {
	defaults := Default()
	flags := pflag.NewFlagSet("omlserver", pflag.ContinueOnError)

	flags.String(keyConfig, "", "path to a YAML configuration file")
	flags.String(keyRESTAddress, defaults.RESTAddress, "REST listen address, empty to disable")
	flags.String(keyGRPCAddress, defaults.GRPCAddress, "gRPC listen address, empty to disable")
	flags.StringSlice(keyParameters, formatParameters(defaults.Parameters), "initial model parameters")
	flags.String(keyAlgorithm, defaults.Algorithm, fmt.Sprintf("compute step, one of %s", strings.Join(algorithm.Names(), ", ")))
	flags.Int(keyWorkers, defaults.Workers, "number of compute workers, 0 for one per CPU")
	flags.Int(keyQueueSize, defaults.QueueSize, "number of requests that may wait for a worker, 0 for one per worker")
	flags.Duration(keyRequestTimeout, defaults.RequestTimeout, "how long a request waits for its step, 0 for no limit")
	flags.Duration(keyTrainingCost, defaults.TrainingCost, "simulated latency of a training step")
	flags.Duration(keyInferenceCost, defaults.InferenceCost, "simulated latency of an inference step")
	flags.Int(keyHistory, defaults.History, "number of past parameter snapshots to keep")
	flags.String(keyCheckpointPath, defaults.CheckpointPath, "bbolt checkpoint file, empty to disable checkpointing")
	flags.Int(keyCheckpointEvery, defaults.CheckpointEvery, "save a checkpoint every n training steps, 0 for shutdown only")
	flags.Int(keyCheckpointRetain, defaults.CheckpointRetain, "number of checkpoints to keep")
	flags.String(keyLogLevel, defaults.LogLevel, "log level")
	flags.Bool(keyDevelopment, defaults.Development, "human friendly logs")
	flags.Bool(keyMetrics, defaults.Metrics, "serve prometheus metrics on the REST frontend")

	return flags
}

// Load parses args and returns a validated configuration.
// It returns pflag.ErrHelp if help was requested.
func Load(args []string) (Config, error) {
	flags := Flags()

	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("could not bind flags: %w", err)
	}

	if path := v.GetString(keyConfig); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("could not read config file %s: %w", path, err)
		}
	}

	parameters, err := parseParameters(v.Get(keyParameters))

	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalid, keyParameters, err)
	}

	config := Config{
		RESTAddress:      v.GetString(keyRESTAddress),
		GRPCAddress:      v.GetString(keyGRPCAddress),
		Parameters:       parameters,
		Algorithm:        v.GetString(keyAlgorithm),
		Workers:          v.GetInt(keyWorkers),
		QueueSize:        v.GetInt(keyQueueSize),
		RequestTimeout:   v.GetDuration(keyRequestTimeout),
		TrainingCost:     v.GetDuration(keyTrainingCost),
		InferenceCost:    v.GetDuration(keyInferenceCost),
		History:          v.GetInt(keyHistory),
		CheckpointPath:   v.GetString(keyCheckpointPath),
		CheckpointEvery:  v.GetInt(keyCheckpointEvery),
		CheckpointRetain: v.GetInt(keyCheckpointRetain),
		LogLevel:         v.GetString(keyLogLevel),
		Development:      v.GetBool(keyDevelopment),
		Metrics:          v.GetBool(keyMetrics),
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks that every field is usable
func (config Config) Validate() error {
	if config.RESTAddress == "" && config.GRPCAddress == "" {
		return fmt.Errorf("%w: at least one of %s and %s must be set", ErrInvalid, keyRESTAddress, keyGRPCAddress)
	}

	for i, parameter := range config.Parameters {
		if math.IsNaN(parameter) || math.IsInf(parameter, 0) {
			return fmt.Errorf("%w: %s[%d] is not finite", ErrInvalid, keyParameters, i)
		}
	}

	if !slices.Contains(algorithm.Names(), config.Algorithm) {
		return fmt.Errorf("%w: unknown %s %q", ErrInvalid, keyAlgorithm, config.Algorithm)
	}

	nonNegative := map[string]int64{
		keyWorkers:         int64(config.Workers),
		keyQueueSize:       int64(config.QueueSize),
		keyRequestTimeout:  int64(config.RequestTimeout),
		keyTrainingCost:    int64(config.TrainingCost),
		keyInferenceCost:   int64(config.InferenceCost),
		keyHistory:         int64(config.History),
		keyCheckpointEvery: int64(config.CheckpointEvery),
	}

	for key, value := range nonNegative {
		if value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalid, key)
		}
	}

	if config.CheckpointRetain < 1 {
		return fmt.Errorf("%w: %s must be at least 1", ErrInvalid, keyCheckpointRetain)
	}

	if _, err := zapcore.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalid, keyLogLevel, err)
	}

	return nil
}

// parseParameters accepts a comma separated string (flags
// and environment) or a list (YAML)
func parseParameters(value interface{}) ([]float64, error) {
	var items []interface{}

	switch v := value.(type) {
	case nil:
		return []float64{}, nil
	case string:
		for _, item := range strings.Split(strings.Trim(v, "[]"), ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	case []string:
		for _, item := range v {
			items = append(items, strings.TrimSpace(item))
		}
	case []float64:
		return append([]float64{}, v...), nil
	case []interface{}:
		items = v
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}

	parameters := make([]float64, 0, len(items))

	for i, item := range items {
		if s, ok := item.(string); ok {
			parameter, err := strconv.ParseFloat(s, 64)

			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}

			parameters = append(parameters, parameter)

			continue
		}

		parameter, err := cast.ToFloat64E(item)

		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}

		parameters = append(parameters, parameter)
	}

	return parameters, nil
}

func formatParameters(parameters []float64) []string {
	formatted := make([]string, len(parameters))

	for i, parameter := range parameters {
		formatted[i] = strconv.FormatFloat(parameter, 'g', -1, 64)
	}

	return formatted
}
