package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"carcrawler/internal/domain"
)

// DefaultFlushThreshold is the buffer size that triggers a flush.
const DefaultFlushThreshold = 1000

// maxNameAttempts bounds the suffixes tried when two flushes share a timestamp.
const maxNameAttempts = 100

// BrokenLinks provides the current broken-link set written alongside every batch.
type BrokenLinks interface {
	Broken() []string
}

// Batch describes a written batch.
type Batch struct {
	Name    string
	Records int
}

// BatchWriter moves buffered records into a BatchStore once enough have accumulated.
type BatchWriter struct {
	store     BatchStore
	threshold int
	now       func() time.Time
	log       logrus.FieldLogger
}

// NewBatchWriter creates a writer. A threshold below 1 uses DefaultFlushThreshold.
func NewBatchWriter(store BatchStore, threshold int, logger logrus.FieldLogger) *BatchWriter {
	if threshold < 1 {
		threshold = DefaultFlushThreshold
	}
	return &BatchWriter{
		store:     store,
		threshold: threshold,
		now:       time.Now,
		log:       logger.WithField("component", "batch_writer"),
	}
}

// MaybeFlush writes the buffer as one batch when it holds at least the threshold
// number of records, rewrites the broken-link set and empties the buffer.
// Below the threshold it does nothing and reports false.
func (w *BatchWriter) MaybeFlush(ctx context.Context, buf *Buffer, broken BrokenLinks) (Batch, bool, error) {
	if buf.Len() < w.threshold {
		return Batch{}, false, nil
	}
	return w.flush(ctx, buf, broken)
}

// Flush writes whatever the buffer holds, regardless of the threshold, and always
// rewrites the broken-link set. An empty buffer writes no batch.
func (w *BatchWriter) Flush(ctx context.Context, buf *Buffer, broken BrokenLinks) (Batch, bool, error) {
	if buf.Len() == 0 {
		if err := w.store.SaveBrokenLinks(ctx, broken.Broken()); err != nil {
			return Batch{}, false, err
		}
		return Batch{}, false, nil
	}
	return w.flush(ctx, buf, broken)
}

// flush keeps the buffer intact when the batch cannot be written so the records
// are retried on the next flush.
func (w *BatchWriter) flush(ctx context.Context, buf *Buffer, broken BrokenLinks) (Batch, bool, error) {
	// Workers may append while the batch is written. Only the snapshot is discarded.
	records := buf.Snapshot()

	name, err := w.save(ctx, records)
	if err != nil {
		w.log.WithError(err).WithField("records", len(records)).Error("Failed to save batch, keeping records buffered")
		return Batch{}, false, err
	}
	buf.Discard(len(records))

	batch := Batch{Name: name, Records: len(records)}
	w.log.WithFields(logrus.Fields{"batch": name, "records": len(records)}).Info("Batch saved")

	// Broken links are rewritten in full on every flush.
	if err := w.store.SaveBrokenLinks(ctx, broken.Broken()); err != nil {
		w.log.WithError(err).Error("Failed to save broken links")
		return batch, true, err
	}
	return batch, true, nil
}

func (w *BatchWriter) save(ctx context.Context, records []domain.Listing) (string, error) {
	base := BatchName(w.now())
	name := base
	for attempt := 2; attempt <= maxNameAttempts+1; attempt++ {
		err := w.store.SaveBatch(ctx, name, records)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, ErrBatchExists) {
			return "", err
		}
		// Same second as an earlier batch.
		name = fmt.Sprintf("%s_%d", base, attempt)
	}
	return "", fmt.Errorf("%w: no free name for %s", ErrBatchExists, base)
}
