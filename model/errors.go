package model

import (
	"errors"
)

var (
	// ErrLockFailure is returned by every operation on a store
	// after a writer terminated abnormally while holding
	// exclusive access.
	ErrLockFailure = errors.New("parameter store is poisoned: a writer terminated while holding exclusive access")
	// ErrNilMutator is returned when Write is called without
	// a mutator.
	ErrNilMutator = errors.New("mutator must not be nil")
	// ErrCompacted is returned when a caller asks for a revision
	// that is no longer retained by the store.
	ErrCompacted = errors.New("revision was compacted")
	// ErrRevisionTooHigh is returned when a caller asks for a
	// revision that is newer than the current revision.
	ErrRevisionTooHigh = errors.New("revision number is higher than the newest revision")
)
