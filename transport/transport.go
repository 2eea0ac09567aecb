package transport

import (
	"context"

	"github.com/omlserver/oml/model"
)

// Parameters is a copy of the model parameters
// as seen by a client
type Parameters struct {
	Revision   int64     `json:"revision"`
	Parameters []float64 `json:"parameters"`
}

// ModelServer describes an interface
// that will be passed to each type of
// frontend. Each frontend provides support
// for a different type of protocol. The
// idea here is to decouple the inner
// workings of an oml server from the
// protocol that clients use to reach it.
type ModelServer interface {
	// Infer runs one inference step and returns
	// its prediction
	Infer(ctx context.Context, x float64) (float64, error)
	// Train runs one training step
	Train(ctx context.Context, x float64) error
	// Parameters returns the snapshot published at
	// revision, or the current one if revision is 0
	Parameters(ctx context.Context, revision int64) (*model.Snapshot, error)
	// Healthy returns false once the parameter
	// store is poisoned
	Healthy() bool
}

// ModelClient describes the interface
// for clients of an oml server. Every
// client, regardless of its protocol, must
// report the same errors for the same
// server outcomes.
type ModelClient interface {
	Infer(ctx context.Context, x float64) (float64, error)
	Train(ctx context.Context, x float64) error
	// Parameters reads revision, or the current
	// parameters if revision is 0
	Parameters(ctx context.Context, revision int64) (Parameters, error)
}
