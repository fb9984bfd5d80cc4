package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"carcrawler/internal/domain"
)

const (
	batchKeyPrefix = "batch:"
	brokenLinksKey = "broken_links"
)

// BadgerStore implements BatchStore using BadgerDB.
// Each batch is one JSON value under "batch:{name}"; the broken-link set is a single value.
type BadgerStore struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// NewBadgerStore opens (or creates) the database at dbPath.
func NewBadgerStore(dbPath string, logger logrus.FieldLogger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}
	logger.Info("BadgerDB opened successfully at path: ", dbPath)

	return &BadgerStore{
		db:  db,
		log: logger.WithField("component", "badger_store"),
	}, nil
}

// Close closes the BadgerDB database.
func (s *BadgerStore) Close() error {
	s.log.Info("Closing BadgerDB...")
	if err := s.db.Close(); err != nil {
		s.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	s.log.Info("BadgerDB closed.")
	return nil
}

func batchKey(name string) []byte {
	return []byte(batchKeyPrefix + name)
}

// SaveBatch implements BatchStore.
func (s *BadgerStore) SaveBatch(ctx context.Context, name string, records []domain.Listing) error {
	if records == nil {
		records = []domain.Listing{}
	}
	value, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal batch %s: %w", name, err)
	}

	key := batchKey(name)
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrBatchExists, name)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.SetEntry(badger.NewEntry(key, value))
	})
	if err != nil {
		s.log.WithError(err).WithField("batch", name).Error("Failed to save batch to BadgerDB")
		return fmt.Errorf("failed to save batch %s: %w", name, err)
	}
	return nil
}

// SaveBrokenLinks implements BatchStore.
func (s *BadgerStore) SaveBrokenLinks(ctx context.Context, links []string) error {
	if links == nil {
		links = []string{}
	}
	value, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("failed to marshal broken links: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(brokenLinksKey), value)
	})
	if err != nil {
		return fmt.Errorf("failed to save broken links: %w", err)
	}
	return nil
}

// LoadBatch implements BatchStore.
func (s *BadgerStore) LoadBatch(ctx context.Context, name string) ([]domain.Listing, error) {
	var records []domain.Listing
	err := s.get(batchKey(name), &records)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", name, err)
	}
	return records, nil
}

// LoadBrokenLinks implements BatchStore.
func (s *BadgerStore) LoadBrokenLinks(ctx context.Context) ([]string, error) {
	var links []string
	err := s.get([]byte(brokenLinksKey), &links)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load broken links: %w", err)
	}
	return links, nil
}

// ListBatches implements BatchStore. Badger iterates keys in byte order, which
// for timestamped names is flush order.
func (s *BadgerStore) ListBatches(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(batchKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), batchKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return names, nil
}

func (s *BadgerStore) get(key []byte, into any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, into)
		})
	})
}

// --- BadgerDB Internal Logger ---

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Infof(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
