package transport

import (
	"errors"
	"fmt"

	"github.com/omlserver/oml/dispatcher"
	"github.com/omlserver/oml/model"
)

var (
	// ErrServerFault is reported by clients when a request
	// failed inside the server. This covers lock failures,
	// compute errors and worker failures which are not
	// distinguished on the wire.
	ErrServerFault = errors.New("server fault")
	// ErrTimeout is reported by clients when the server
	// stopped waiting for a step
	ErrTimeout = errors.New("timed out waiting for the step")
	// ErrInvalidRequest is reported by clients when the
	// server rejected the request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnavailable is reported by clients when the
	// server is shutting down
	ErrUnavailable = errors.New("server unavailable")
	// ErrGone is reported by clients when the requested
	// revision is no longer retained
	ErrGone = errors.New("revision is no longer retained")
)

// Error is a server error as reported by a client
type Error struct {
	// Kind is one of ErrServerFault, ErrTimeout,
	// ErrInvalidRequest, ErrUnavailable, ErrGone
	Kind    error
	Message string
}

func (err *Error) Error() string {
	return fmt.Sprintf("%s: %s", err.Kind.Error(), err.Message)
}

// Is matches err against its kind
func (err *Error) Is(target error) bool {
	return target == err.Kind
}

// Kind maps a server side error onto one of the error
// kinds that clients report. It returns nil for a nil err.
func Kind(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrCompacted):
		return ErrGone
	case errors.Is(err, model.ErrRevisionTooHigh):
		return ErrInvalidRequest
	}

	switch dispatcher.Classify(err) {
	case dispatcher.ClassTimeout:
		return ErrTimeout
	case dispatcher.ClassInvalid:
		return ErrInvalidRequest
	case dispatcher.ClassStopped:
		return ErrUnavailable
	}

	return ErrServerFault
}
