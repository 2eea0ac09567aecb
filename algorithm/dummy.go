package algorithm

import (
	"context"
	"fmt"
	"math"

	"github.com/omlserver/oml/model"
)

var _ Algorithm = (*Dummy)(nil)

// Dummy is the reference algorithm. Training multiplies
// every parameter by x. Inference returns the dot product
// of the parameters with a vector whose elements all equal x.
type Dummy struct {
	cost Cost
}

// NewDummy creates a Dummy that charges cost before each
// step. A nil cost means NoCost.
func NewDummy(cost Cost) *Dummy {
	if cost == nil {
		cost = NoCost
	}

	return &Dummy{cost: cost}
}

// TrainingStep implements Algorithm.TrainingStep
func (dummy *Dummy) TrainingStep(ctx context.Context, store *model.Store, x float64) error {
	if err := checkInput(Train, x); err != nil {
		return err
	}

	if err := dummy.cost(ctx, Train); err != nil {
		return &ComputeError{Kind: Train, Input: x, Err: err}
	}

	_, err := store.Update(func(parameters []float64) error {
		for i := range parameters {
			product := parameters[i] * x

			if !finite(product) {
				return &ComputeError{Kind: Train, Input: x, Err: fmt.Errorf("%w: parameter %d", ErrNonFiniteResult, i)}
			}

			parameters[i] = product
		}

		return nil
	})

	return err
}

// InferenceStep implements Algorithm.InferenceStep
func (dummy *Dummy) InferenceStep(ctx context.Context, store *model.Store, x float64) (float64, error) {
	if err := checkInput(Infer, x); err != nil {
		return 0, err
	}

	snapshot, err := store.Read()

	if err != nil {
		return 0, err
	}

	if err := dummy.cost(ctx, Infer); err != nil {
		return 0, &ComputeError{Kind: Infer, Input: x, Err: err}
	}

	var sum float64

	snapshot.Range(func(i int, parameter float64) bool {
		sum += parameter * x

		return true
	})

	if !finite(sum) {
		return 0, &ComputeError{Kind: Infer, Input: x, Err: ErrNonFiniteResult}
	}

	return sum, nil
}

func checkInput(kind Kind, x float64) error {
	if !finite(x) {
		return &ComputeError{Kind: kind, Input: x, Err: ErrNonFiniteInput}
	}

	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
