package checkpoint

import (
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrClosed indicates that the store was closed
	ErrClosed = errors.New("checkpoint store was closed")
	// ErrNoCheckpoint is returned by Latest when nothing
	// was saved yet
	ErrNoCheckpoint = errors.New("no checkpoint exists")
	// ErrCorrupt is returned when a stored checkpoint
	// cannot be decoded
	ErrCorrupt = errors.New("checkpoint is corrupt")
)

func wrapError(wrap string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return ErrClosed
	case errors.Is(err, ErrNoCheckpoint):
		return err
	case errors.Is(err, ErrClosed):
		return err
	}

	return fmt.Errorf("%s: %w", wrap, err)
}
