package model

import (
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"go.uber.org/zap"
)

// Mutator changes parameters in place. It receives a
// private copy of the current parameters whose length
// cannot be changed. It must not retain the slice
// after returning.
type Mutator func(parameters []float64)

// UpdateFunc is a Mutator that can abort the write
// by returning an error
type UpdateFunc func(parameters []float64) error

// StoreConfig contains configuration
// for a store
type StoreConfig struct {
	Logger *zap.Logger
	// Parameters is the initial parameter sequence. It is
	// copied. A nil or empty slice creates an empty model.
	Parameters []float64
	// Revision is the revision of the initial parameters.
	// Values < 1 mean 1.
	Revision int64
	// History is the number of snapshots older than the
	// current one that remain readable with ReadRevision.
	History int
}

// Store is the shared parameter store. See the package
// documentation for its access discipline. A Store must
// be created with New and must not be copied.
type Store struct {
	logger   *zap.Logger
	length   int
	mu       sync.Mutex
	current  atomic.Pointer[Snapshot]
	poisoned atomic.Bool

	historyMu    sync.RWMutex
	history      *treemap.Map
	historyLimit int
}

// New creates a store initialized with the configured parameters
func New(config StoreConfig) *Store {
	store := &Store{
		logger:       config.Logger,
		length:       len(config.Parameters),
		history:      treemap.NewWith(utils.Int64Comparator),
		historyLimit: config.History,
	}

	if store.logger == nil {
		store.logger = zap.L()
	}

	if store.historyLimit < 0 {
		store.historyLimit = 0
	}

	revision := config.Revision

	if revision < 1 {
		revision = 1
	}

	initial := &Snapshot{revision: revision, parameters: copyParameters(config.Parameters)}
	store.current.Store(initial)
	store.history.Put(initial.revision, initial)

	return store
}

// Len returns the fixed number of parameters
func (store *Store) Len() int {
	return store.length
}

// Poisoned reports whether a writer terminated
// abnormally while holding exclusive access
func (store *Store) Poisoned() bool {
	return store.poisoned.Load()
}

// Read returns the current snapshot. It never blocks.
func (store *Store) Read() (*Snapshot, error) {
	if store.poisoned.Load() {
		return nil, ErrLockFailure
	}

	return store.current.Load(), nil
}

// ReadRevision returns the snapshot published at revision.
// Only the current revision and the configured number of
// older revisions are retained.
func (store *Store) ReadRevision(revision int64) (*Snapshot, error) {
	if store.poisoned.Load() {
		return nil, ErrLockFailure
	}

	current := store.current.Load()

	if revision > current.revision {
		return nil, ErrRevisionTooHigh
	}

	if revision == current.revision {
		return current, nil
	}

	store.historyMu.RLock()
	defer store.historyMu.RUnlock()

	snapshot, ok := store.history.Get(revision)

	if !ok {
		return nil, ErrCompacted
	}

	return snapshot.(*Snapshot), nil
}

// Write applies mutator to a copy of the current parameters
// under exclusive access and publishes the result as the next
// revision. Writes are serialized. Readers racing a write see
// either the previous or the new snapshot, never a mixture.
//
// If mutator panics the store is poisoned and the panic is
// propagated to the caller. The published snapshot is left
// unchanged.
func (store *Store) Write(mutator Mutator) (*Snapshot, error) {
	if mutator == nil {
		return nil, ErrNilMutator
	}

	return store.Update(func(parameters []float64) error {
		mutator(parameters)

		return nil
	})
}

// Update is like Write but update may abort the write by
// returning an error. Nothing is published in that case and
// the error is returned unchanged.
func (store *Store) Update(update UpdateFunc) (*Snapshot, error) {
	if update == nil {
		return nil, ErrNilMutator
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if store.poisoned.Load() {
		return nil, ErrLockFailure
	}

	current := store.current.Load()
	parameters := copyParameters(current.parameters)
	completed := false

	defer func() {
		if completed {
			return
		}

		store.poisoned.Store(true)
		store.logger.Error("writer terminated while holding exclusive access", zap.Int64("revision", current.revision))
	}()

	err := update(parameters)
	completed = true

	if err != nil {
		store.logger.Debug("write aborted", zap.Int64("revision", current.revision), zap.Error(err))

		return nil, err
	}

	next := &Snapshot{revision: current.revision + 1, parameters: parameters}
	store.current.Store(next)
	store.remember(next)

	store.logger.Debug("published revision", zap.Int64("revision", next.revision))

	return next, nil
}

// remember records snapshot in the history window and drops
// revisions that fall out of it. Callers must hold mu.
func (store *Store) remember(snapshot *Snapshot) {
	store.historyMu.Lock()
	defer store.historyMu.Unlock()

	store.history.Put(snapshot.revision, snapshot)

	for store.history.Size() > store.historyLimit+1 {
		oldest, _ := store.history.Min()
		store.history.Remove(oldest)
	}
}
