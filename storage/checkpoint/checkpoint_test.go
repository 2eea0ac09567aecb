package checkpoint_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/omlserver/oml/model"
	"github.com/omlserver/oml/storage/checkpoint"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

func tempStore(t *testing.T, retain int) *checkpoint.Store {
	store, err := checkpoint.OpenTemp(retain)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	t.Cleanup(func() { store.Delete() })

	return store
}

func TestLatestEmpty(t *testing.T) {
	store := tempStore(t, 1)

	if _, err := store.Latest(); !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %#v", err)
	}
}

func TestSaveAndLatest(t *testing.T) {
	testCases := map[string]struct {
		parameters []float64
		writes     int
		retain     int
		revisions  []int64
	}{
		"empty-model": {
			parameters: []float64{},
			writes:     0,
			retain:     1,
			revisions:  []int64{1},
		},
		"special-values": {
			parameters: []float64{0, -0.5, math.MaxFloat64, math.SmallestNonzeroFloat64},
			writes:     0,
			retain:     1,
			revisions:  []int64{1},
		},
		"retain-one": {
			parameters: []float64{1, 2, 3},
			writes:     4,
			retain:     1,
			revisions:  []int64{5},
		},
		"retain-three": {
			parameters: []float64{1, 2, 3},
			writes:     4,
			retain:     3,
			revisions:  []int64{3, 4, 5},
		},
		"retain-more-than-saved": {
			parameters: []float64{1},
			writes:     1,
			retain:     10,
			revisions:  []int64{1, 2},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			store := tempStore(t, testCase.retain)
			params := model.New(model.StoreConfig{Logger: zap.NewNop(), Parameters: testCase.parameters})
			snapshot, _ := params.Read()

			if err := store.Save(snapshot); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			for i := 0; i < testCase.writes; i++ {
				snapshot, _ = params.Write(func(p []float64) {
					for j := range p {
						p[j] += 1
					}
				})

				if err := store.Save(snapshot); err != nil {
					t.Fatalf("expected err to be nil, got %#v", err)
				}
			}

			latest, err := store.Latest()

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if latest.Revision != snapshot.Revision() {
				t.Errorf("expected revision %d, got %d", snapshot.Revision(), latest.Revision)
			}

			if diff := cmp.Diff(snapshot.Values(), latest.Parameters); diff != "" {
				t.Errorf("unexpected parameters: %s", diff)
			}

			revisions, err := store.Revisions()

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if diff := cmp.Diff(testCase.revisions, revisions); diff != "" {
				t.Errorf("unexpected revisions: %s", diff)
			}
		})
	}
}

func TestReopen(t *testing.T) {
	store := tempStore(t, 1)
	params := model.New(model.StoreConfig{Logger: zap.NewNop(), Parameters: []float64{1.5, 2.5}, Revision: 7})
	snapshot, _ := params.Read()

	if err := store.Save(snapshot); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	path := store.Path()

	if err := store.Close(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	reopened, err := checkpoint.Open(checkpoint.Config{Path: path, Logger: zap.NewNop()})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer reopened.Delete()

	latest, err := reopened.Latest()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(checkpoint.Checkpoint{Revision: 7, Parameters: []float64{1.5, 2.5}}, latest); diff != "" {
		t.Fatalf("unexpected checkpoint: %s", diff)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := checkpoint.Open(checkpoint.Config{}); err == nil {
		t.Fatalf("expected an error when no path is configured")
	}
}

func TestClosed(t *testing.T) {
	store, err := checkpoint.OpenTemp(1)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := store.Delete(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, err := store.Latest(); !errors.Is(err, checkpoint.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %#v", err)
	}
}

func TestCorruptKey(t *testing.T) {
	store := tempStore(t, 1)
	params := model.New(model.StoreConfig{Logger: zap.NewNop(), Parameters: []float64{1}})
	snapshot, _ := params.Read()

	if err := store.Save(snapshot); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	path := store.Path()

	if err := store.Close(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	db, err := bolt.Open(path, 0600, nil)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := db.Update(func(txn *bolt.Tx) error {
		return txn.Bucket([]byte("checkpoints")).Put([]byte("bad"), []byte{})
	}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	reopened, err := checkpoint.Open(checkpoint.Config{Path: path, Logger: zap.NewNop()})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer reopened.Delete()

	if _, err := reopened.Revisions(); !errors.Is(err, checkpoint.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt from Revisions, got %#v", err)
	}

	if _, err := reopened.Latest(); !errors.Is(err, checkpoint.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt from Latest, got %#v", err)
	}
}
