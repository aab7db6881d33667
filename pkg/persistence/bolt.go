package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"

	bolt "go.etcd.io/bbolt"

	"github.com/loopwire/podcore/pkg/dose"
)

var (
	// Bucket names
	bucketPumpState   = []byte("pump_state")
	bucketDoseHistory = []byte("dose_history")

	keyDocument = []byte("document")
)

// BoltStore keeps the document and reported doses in a bbolt database.
// It also serves as the dose history sink.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) podcore.db in dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	return OpenBoltStore(filepath.Join(dataDir, "podcore.db"))
}

// OpenBoltStore opens the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPumpState, bucketDoseHistory} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Save stores the document. bbolt syncs on commit.
func (s *BoltStore) Save(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPumpState).Put(keyDocument, data)
	})
}

// Load returns the stored document, or nil, nil.
func (s *BoltStore) Load() ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketPumpState).Get(keyDocument); v != nil {
			// Values are only valid for the life of the transaction.
			out = slices.Clone(v)
		}
		return nil
	})
	return out, err
}

// Clear removes the stored document. Dose history is kept.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPumpState).Delete(keyDocument)
	})
}

// ReportDoses stores settled doses keyed by ID. Reporting the same dose
// twice overwrites the first copy.
func (s *BoltStore) ReportDoses(ctx context.Context, doses []dose.UnfinalizedDose) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDoseHistory)
		for _, d := range doses {
			data, err := json.Marshal(d)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(d.ID.String()), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// History returns every reported dose in programming order.
func (s *BoltStore) History() ([]dose.UnfinalizedDose, error) {
	var doses []dose.UnfinalizedDose
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDoseHistory).ForEach(func(k, v []byte) error {
			var d dose.UnfinalizedDose
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			doses = append(doses, d)
			return nil
		})
	})
	slices.SortStableFunc(doses, func(a, b dose.UnfinalizedDose) int {
		return a.ProgrammedAt.Compare(b.ProgrammedAt)
	})
	return doses, err
}

var _ dose.HistoryReporter = (*BoltStore)(nil)
