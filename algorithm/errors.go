package algorithm

import (
	"errors"
	"fmt"
)

var (
	// ErrNonFiniteInput is returned for NaN or infinite inputs
	ErrNonFiniteInput = errors.New("input must be a finite number")
	// ErrNonFiniteResult is returned when a step would
	// produce NaN or an infinite value
	ErrNonFiniteResult = errors.New("result is not a finite number")
)

// ComputeError is a step-level failure caused by the
// step's own domain rules rather than by the store or
// the worker running it.
type ComputeError struct {
	Kind  Kind
	Input float64
	Err   error
}

func (err *ComputeError) Error() string {
	return fmt.Sprintf("%s step failed for input %v: %s", err.Kind, err.Input, err.Err)
}

// Unwrap returns the underlying cause
func (err *ComputeError) Unwrap() error {
	return err.Err
}

// IsComputeError reports whether any error in err's
// chain is a *ComputeError
func IsComputeError(err error) bool {
	var computeErr *ComputeError

	return errors.As(err, &computeErr)
}
