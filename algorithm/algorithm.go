// Package algorithm defines the compute steps that run
// against a parameter store. Training steps mutate the
// store through Store.Write, inference steps read a single
// snapshot through Store.Read and never mutate it.
package algorithm

import (
	"context"
	"fmt"

	"github.com/omlserver/oml/model"
)

// Kind distinguishes training from inference
type Kind int

// enumeration of Kind
const (
	Train Kind = iota
	Infer
)

func (kind Kind) String() string {
	switch kind {
	case Train:
		return "train"
	case Infer:
		return "infer"
	default:
		return fmt.Sprintf("kind(%d)", int(kind))
	}
}

// Algorithm is a pair of compute steps operating on a
// shared store. Implementations may hold their own
// configuration but no model state: one value is shared
// by every request for the lifetime of a server.
type Algorithm interface {
	// TrainingStep performs one or more writes against
	// the store using input x
	TrainingStep(ctx context.Context, store *model.Store, x float64) error
	// InferenceStep performs exactly one read of the store
	// and computes a result from it and x. It must not
	// mutate the store.
	InferenceStep(ctx context.Context, store *model.Store, x float64) (float64, error)
}
