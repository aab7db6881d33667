package cli

import (
	"errors"
	"io"

	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/persistence"
)

// errNoHistory is returned for history queries against a file store.
var errNoHistory = errors.New("dose history needs the bolt store")

// openedStore is a document store plus the dose history sink it provides.
type openedStore struct {
	persistence.Store
	history *persistence.BoltStore
	closer  io.Closer
}

// Reporter returns the history sink, or nil when the store keeps none.
func (s *openedStore) Reporter() dose.HistoryReporter {
	if s.history == nil {
		return nil
	}
	return s.history
}

// History returns the reported doses.
func (s *openedStore) History() ([]dose.UnfinalizedDose, error) {
	if s.history == nil {
		return nil, errNoHistory
	}
	return s.history.History()
}

// Close releases the store.
func (s *openedStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func openStore(cfg Config) (*openedStore, error) {
	switch cfg.Store.Kind {
	case StoreFile:
		return &openedStore{Store: persistence.NewFileStore(cfg.Store.Path)}, nil
	default:
		db, err := persistence.OpenBoltStore(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		return &openedStore{Store: db, history: db, closer: db}, nil
	}
}
