// Package checkpoint persists parameter snapshots to a bbolt
// database so that a server can resume from its last saved
// state. Checkpoints are keyed by revision. The parameter
// store itself never depends on this package: a server only
// uses it when a checkpoint path is configured.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/omlserver/oml/model"
	"github.com/omlserver/oml/utils/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var checkpointsBucket = []byte("checkpoints")

// Config contains configuration
// for a checkpoint store
type Config struct {
	Logger *zap.Logger
	Path   string
	// Retain is the number of checkpoints kept. Values < 1
	// mean 1.
	Retain int
}

// Checkpoint is a decoded checkpoint
type Checkpoint struct {
	Revision   int64
	Parameters []float64
}

// Store is a bbolt backed checkpoint store
type Store struct {
	logger *zap.Logger
	db     *bolt.DB
	retain int
}

// Open opens or creates the checkpoint database at config.Path
func Open(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("\"path\" is required")
	}

	db, err := bolt.Open(config.Path, 0600, nil)

	if err != nil {
		return nil, wrapError(fmt.Sprintf("could not open bbolt store at %s", config.Path), err)
	}

	if err := db.Update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists(checkpointsBucket)

		return err
	}); err != nil {
		db.Close()

		return nil, fmt.Errorf("could not ensure checkpoints bucket exists: %w", err)
	}

	store := &Store{logger: config.Logger, db: db, retain: config.Retain}

	if store.logger == nil {
		store.logger = zap.L()
	}

	if store.retain < 1 {
		store.retain = 1
	}

	store.logger = store.logger.With(zap.String("checkpoint_path", config.Path))

	return store, nil
}

// OpenTemp opens a checkpoint store in a fresh temporary file.
// It is meant for tests.
func OpenTemp(retain int) (*Store, error) {
	return Open(Config{
		Path:   filepath.Join(os.TempDir(), fmt.Sprintf("oml-checkpoint-%s", uuid.MustUUID())),
		Retain: retain,
		Logger: zap.NewNop(),
	})
}

// Save writes snapshot as a checkpoint and drops checkpoints
// beyond the retention limit
func (store *Store) Save(snapshot *model.Snapshot) error {
	err := store.db.Update(func(txn *bolt.Tx) error {
		bucket := txn.Bucket(checkpointsBucket)

		if err := bucket.Put(revisionKey(snapshot.Revision()), encodeParameters(snapshot.Values())); err != nil {
			return fmt.Errorf("could not put checkpoint: %w", err)
		}

		return compact(bucket, store.retain)
	})

	if err != nil {
		return wrapError("could not save checkpoint", err)
	}

	store.logger.Debug("saved checkpoint", zap.Int64("revision", snapshot.Revision()), zap.Int("parameters", snapshot.Len()))

	return nil
}

// Latest returns the checkpoint with the highest revision
func (store *Store) Latest() (Checkpoint, error) {
	var checkpoint Checkpoint

	err := store.db.View(func(txn *bolt.Tx) error {
		key, value := txn.Bucket(checkpointsBucket).Cursor().Last()

		if key == nil {
			return ErrNoCheckpoint
		}

		if len(key) != 8 {
			return fmt.Errorf("%w: key has length %d", ErrCorrupt, len(key))
		}

		parameters, err := decodeParameters(value)

		if err != nil {
			return err
		}

		checkpoint = Checkpoint{Revision: int64(binary.BigEndian.Uint64(key)), Parameters: parameters}

		return nil
	})

	return checkpoint, wrapError("could not read latest checkpoint", err)
}

// Revisions lists the retained checkpoint revisions in
// ascending order
func (store *Store) Revisions() ([]int64, error) {
	revisions := []int64{}

	err := store.db.View(func(txn *bolt.Tx) error {
		return txn.Bucket(checkpointsBucket).ForEach(func(key, value []byte) error {
			if len(key) != 8 {
				return fmt.Errorf("%w: key has length %d", ErrCorrupt, len(key))
			}

			revisions = append(revisions, int64(binary.BigEndian.Uint64(key)))

			return nil
		})
	})

	return revisions, wrapError("could not list checkpoints", err)
}

// Path returns the database file path
func (store *Store) Path() string {
	return store.db.Path()
}

// Close closes the database
func (store *Store) Close() error {
	return store.db.Close()
}

// Delete closes then removes the database file
func (store *Store) Delete() error {
	path := store.db.Path()

	if err := store.Close(); err != nil {
		return fmt.Errorf("could not close store: %w", err)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("could not remove path %s: %w", path, err)
	}

	return nil
}

func compact(bucket *bolt.Bucket, retain int) error {
	keys := [][]byte{}
	cursor := bucket.Cursor()

	for key, _ := cursor.First(); key != nil; key, _ = cursor.Next() {
		keys = append(keys, append([]byte{}, key...))
	}

	for i := 0; i < len(keys)-retain; i++ {
		if err := bucket.Delete(keys[i]); err != nil {
			return fmt.Errorf("could not delete checkpoint: %w", err)
		}
	}

	return nil
}

// revision must be >= 0
func revisionKey(revision int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(revision))

	return b
}

func encodeParameters(parameters []float64) []byte {
	b := make([]byte, 8*len(parameters))

	for i, parameter := range parameters {
		binary.BigEndian.PutUint64(b[8*i:], math.Float64bits(parameter))
	}

	return b
}

func decodeParameters(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%w: value has length %d", ErrCorrupt, len(b))
	}

	parameters := make([]float64, len(b)/8)

	for i := range parameters {
		parameters[i] = math.Float64frombits(binary.BigEndian.Uint64(b[8*i:]))
	}

	return parameters, nil
}
