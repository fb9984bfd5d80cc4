package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"carcrawler/internal/domain"
)

// BrokenLinksFile is the fixed name of the broken-link file inside the data directory.
const BrokenLinksFile = "broken_links.json"

// FileStore implements BatchStore with one file per batch under a data directory.
type FileStore struct {
	dir   string
	codec Codec
	log   logrus.FieldLogger
}

// NewFileStore creates dir if absent and returns a store writing batches with codec.
func NewFileStore(dir string, codec Codec, logger logrus.FieldLogger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &FileStore{
		dir:   dir,
		codec: codec,
		log:   logger.WithField("component", "file_store"),
	}, nil
}

// Close implements BatchStore.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) batchPath(name string) string {
	return filepath.Join(s.dir, name+s.codec.Ext())
}

// SaveBatch implements BatchStore.
func (s *FileStore) SaveBatch(ctx context.Context, name string, records []domain.Listing) error {
	path := s.batchPath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrBatchExists, path)
	}

	err := writeAtomic(path, func(f *os.File) error {
		return s.codec.Encode(f, records)
	})
	if err != nil {
		s.log.WithError(err).WithField("path", path).Error("Failed to write batch file")
		return fmt.Errorf("failed to save batch %s: %w", name, err)
	}
	return nil
}

// SaveBrokenLinks implements BatchStore. The file is fully rewritten every time.
func (s *FileStore) SaveBrokenLinks(ctx context.Context, links []string) error {
	if links == nil {
		links = []string{}
	}
	path := filepath.Join(s.dir, BrokenLinksFile)
	err := writeAtomic(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(links)
	})
	if err != nil {
		return fmt.Errorf("failed to save broken links: %w", err)
	}
	return nil
}

// LoadBatch implements BatchStore.
func (s *FileStore) LoadBatch(ctx context.Context, name string) ([]domain.Listing, error) {
	f, err := os.Open(s.batchPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, name)
		}
		return nil, fmt.Errorf("failed to open batch %s: %w", name, err)
	}
	defer f.Close()
	return s.codec.Decode(f)
}

// LoadBrokenLinks implements BatchStore.
func (s *FileStore) LoadBrokenLinks(ctx context.Context) ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, BrokenLinksFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read broken links: %w", err)
	}
	var links []string
	if err := json.Unmarshal(raw, &links); err != nil {
		return nil, fmt.Errorf("failed to decode broken links: %w", err)
	}
	return links, nil
}

// ListBatches implements BatchStore.
func (s *FileStore) ListBatches(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*_export*"+s.codec.Ext()))
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), s.codec.Ext()))
	}
	sort.Strings(names)
	return names, nil
}

// writeAtomic writes path through a temporary file in the same directory so a
// crash never leaves a truncated file behind.
func writeAtomic(path string, write func(f *os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
