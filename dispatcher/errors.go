package dispatcher

import (
	"errors"
	"fmt"

	"github.com/omlserver/oml/algorithm"
	"github.com/omlserver/oml/model"
)

var (
	// ErrWorkerFailure matches any *WorkerFailure with errors.Is
	ErrWorkerFailure = errors.New("worker failed")
	// ErrTimeout is returned when the caller's context ends
	// before the compute step completes. It only aborts the
	// wait: a step that already started still runs to completion.
	ErrTimeout = errors.New("timed out waiting for compute step")
	// ErrStopped is returned by Submit when the dispatcher
	// is not running
	ErrStopped = errors.New("dispatcher is not running")
	// ErrInvalidRequest is returned for requests missing
	// a store or algorithm or with an unknown kind
	ErrInvalidRequest = errors.New("invalid request")
)

// WorkerFailure reports that the worker executing a step
// terminated abnormally before producing a result. It is
// never produced by a step returning an error.
type WorkerFailure struct {
	RequestID string
	// Panic is the value recovered from the worker
	Panic interface{}
	Stack []byte
}

func (err *WorkerFailure) Error() string {
	return fmt.Sprintf("worker failed while executing request %s: %v", err.RequestID, err.Panic)
}

// Is lets errors.Is(err, ErrWorkerFailure) match
func (err *WorkerFailure) Is(target error) bool {
	return target == ErrWorkerFailure
}

// Class is a coarse classification of a Submit result
// that transports can map to their own status codes
type Class string

// enumeration of Class
const (
	ClassOK            Class = "ok"
	ClassComputeError  Class = "compute_error"
	ClassLockFailure   Class = "lock_failure"
	ClassWorkerFailure Class = "worker_failure"
	ClassTimeout       Class = "timeout"
	ClassStopped       Class = "stopped"
	ClassInvalid       Class = "invalid"
	ClassUnknown       Class = "unknown"
)

// Classify returns the class of an error returned by Submit
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassOK
	case errors.Is(err, ErrWorkerFailure):
		return ClassWorkerFailure
	case errors.Is(err, model.ErrLockFailure):
		return ClassLockFailure
	case algorithm.IsComputeError(err):
		return ClassComputeError
	case errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, ErrStopped):
		return ClassStopped
	case errors.Is(err, ErrInvalidRequest):
		return ClassInvalid
	default:
		return ClassUnknown
	}
}

// ServerFault reports whether err is a failure on the
// serving side as opposed to a rejected or abandoned request
func ServerFault(err error) bool {
	switch Classify(err) {
	case ClassComputeError, ClassLockFailure, ClassWorkerFailure, ClassUnknown:
		return true
	default:
		return false
	}
}
