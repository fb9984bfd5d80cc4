package storage

import (
	"context"
	"errors"
	"time"

	"carcrawler/internal/domain"
)

var (
	// ErrBatchNotFound is returned when loading a batch that was never written.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBatchExists is returned when a batch name is already taken. Batches are never overwritten.
	ErrBatchExists = errors.New("batch already exists")
)

// BatchStore defines durable storage for flushed record batches.
// This allows swapping the on-disk layout (files, BadgerDB) without touching the crawl.
type BatchStore interface {
	// SaveBatch stores records under name. It fails with ErrBatchExists if name is taken.
	SaveBatch(ctx context.Context, name string, records []domain.Listing) error

	// SaveBrokenLinks replaces the stored broken-link set with links.
	SaveBrokenLinks(ctx context.Context, links []string) error

	// LoadBatch reads a stored batch back.
	LoadBatch(ctx context.Context, name string) ([]domain.Listing, error)

	// LoadBrokenLinks reads the stored broken-link set; empty if none was saved.
	LoadBrokenLinks(ctx context.Context) ([]string, error)

	// ListBatches returns the stored batch names in ascending order.
	ListBatches(ctx context.Context) ([]string, error)

	// Close releases the store.
	Close() error
}

const batchTimeLayout = "2006_01_02_15_04_05"

// BatchName returns the name of a batch flushed at t, e.g. "2024_03_01_12_00_00_export".
func BatchName(t time.Time) string {
	return t.Format(batchTimeLayout) + "_export"
}
