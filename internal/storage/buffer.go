package storage

import (
	"sync"

	"carcrawler/internal/domain"
)

// Buffer accumulates extracted records between flushes. It is safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	records []domain.Listing
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a record.
func (b *Buffer) Append(rec domain.Listing) {
	b.mu.Lock()
	b.records = append(b.records, rec)
	b.mu.Unlock()
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Snapshot returns a copy of the buffered records.
func (b *Buffer) Snapshot() []domain.Listing {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Listing, len(b.records))
	copy(out, b.records)
	return out
}

// Discard drops the first n records, the ones a preceding Snapshot handed to storage.
func (b *Buffer) Discard(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n >= len(b.records) {
		b.records = nil
		return
	}
	rest := make([]domain.Listing, len(b.records)-n)
	copy(rest, b.records[n:])
	b.records = rest
}
