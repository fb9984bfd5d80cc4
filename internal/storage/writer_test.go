package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carcrawler/internal/domain"
)

func newFileWriter(t *testing.T, threshold int) (*BatchWriter, *FileStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	store, err := NewFileStore(dir, JSONCodec{}, testLogger())
	require.NoError(t, err)

	w := NewBatchWriter(store, threshold, testLogger())
	w.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 45, 0, time.Local) }
	return w, store, dir
}

func fill(buf *Buffer, records []domain.Listing) {
	for _, r := range records {
		buf.Append(r)
	}
}

func TestBatchName(t *testing.T) {
	assert.Equal(t, "2024_03_01_09_05_07_export", BatchName(time.Date(2024, 3, 1, 9, 5, 7, 0, time.UTC)))
}

func TestBatchWriter_BelowThresholdNeverWrites(t *testing.T) {
	w, store, dir := newFileWriter(t, 5)
	buf := NewBuffer()
	fill(buf, sampleListings(4))

	for i := 0; i < 3; i++ {
		_, flushed, err := w.MaybeFlush(context.Background(), buf, brokenSet{"x"})
		require.NoError(t, err)
		assert.False(t, flushed)
	}

	assert.Equal(t, 4, buf.Len())
	names, err := store.ListBatches(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no broken-link file either")
}

func TestBatchWriter_CrossingThresholdWritesOneBatch(t *testing.T) {
	w, store, dir := newFileWriter(t, 5)
	buf := NewBuffer()
	records := sampleListings(6)
	fill(buf, records)

	batch, flushed, err := w.MaybeFlush(context.Background(), buf, brokenSet{"https://x/broken-1"})
	require.NoError(t, err)
	require.True(t, flushed)
	assert.Equal(t, Batch{Name: "2024_03_01_12_30_45_export", Records: 6}, batch)
	assert.Equal(t, 0, buf.Len())

	assert.FileExists(t, filepath.Join(dir, "2024_03_01_12_30_45_export.json"))

	names, err := store.ListBatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2024_03_01_12_30_45_export"}, names)

	// Round trip: the file holds exactly the buffered records.
	got, err := store.LoadBatch(context.Background(), batch.Name)
	require.NoError(t, err)
	assert.Equal(t, records, got)

	broken, err := store.LoadBrokenLinks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/broken-1"}, broken)

	// Buffer is empty again, so a second call is a no-op.
	_, flushed, err = w.MaybeFlush(context.Background(), buf, brokenSet{})
	require.NoError(t, err)
	assert.False(t, flushed)
}

func TestBatchWriter_BrokenLinksAreOverwritten(t *testing.T) {
	w, store, _ := newFileWriter(t, 1)
	ctx := context.Background()
	buf := NewBuffer()

	buf.Append(sampleListing("1"))
	_, _, err := w.MaybeFlush(ctx, buf, brokenSet{"a"})
	require.NoError(t, err)

	w.now = func() time.Time { return time.Date(2024, 3, 1, 12, 31, 0, 0, time.Local) }
	buf.Append(sampleListing("2"))
	_, _, err = w.MaybeFlush(ctx, buf, brokenSet{"a", "b"})
	require.NoError(t, err)

	broken, err := store.LoadBrokenLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, broken)

	names, err := store.ListBatches(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestBatchWriter_SameSecondGetsSuffix(t *testing.T) {
	w, store, _ := newFileWriter(t, 1)
	ctx := context.Background()
	buf := NewBuffer()

	buf.Append(sampleListing("1"))
	first, _, err := w.MaybeFlush(ctx, buf, brokenSet{})
	require.NoError(t, err)

	buf.Append(sampleListing("2"))
	second, _, err := w.MaybeFlush(ctx, buf, brokenSet{})
	require.NoError(t, err)

	assert.Equal(t, "2024_03_01_12_30_45_export", first.Name)
	assert.Equal(t, "2024_03_01_12_30_45_export_2", second.Name)

	got, err := store.LoadBatch(ctx, first.Name)
	require.NoError(t, err)
	assert.Equal(t, "1", got[0].ID, "first batch is not overwritten")
}

func TestBatchWriter_FlushBelowThreshold(t *testing.T) {
	w, store, _ := newFileWriter(t, 1000)
	ctx := context.Background()

	buf := NewBuffer()
	_, flushed, err := w.Flush(ctx, buf, brokenSet{"z"})
	require.NoError(t, err)
	assert.False(t, flushed)

	broken, err := store.LoadBrokenLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, broken, "final flush persists broken links even without records")

	fill(buf, sampleListings(3))
	batch, flushed, err := w.Flush(ctx, buf, brokenSet{"z"})
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.Equal(t, 3, batch.Records)
	assert.Equal(t, 0, buf.Len())
}

type failingStore struct {
	BatchStore
	mu    sync.Mutex
	fails int
}

func (f *failingStore) SaveBatch(ctx context.Context, name string, records []domain.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("disk full")
	}
	return f.BatchStore.SaveBatch(ctx, name, records)
}

func TestBatchWriter_FailedSaveKeepsBuffer(t *testing.T) {
	_, fileStore, _ := newFileWriter(t, 2)
	store := &failingStore{BatchStore: fileStore, fails: 1}
	w := NewBatchWriter(store, 2, testLogger())
	ctx := context.Background()

	buf := NewBuffer()
	fill(buf, sampleListings(2))

	_, flushed, err := w.MaybeFlush(ctx, buf, brokenSet{})
	assert.Error(t, err)
	assert.False(t, flushed)
	assert.Equal(t, 2, buf.Len())

	buf.Append(sampleListing("9"))
	batch, flushed, err := w.MaybeFlush(ctx, buf, brokenSet{})
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.Equal(t, 3, batch.Records)
	assert.Equal(t, 0, buf.Len())
}

func TestNewBatchWriter_DefaultThreshold(t *testing.T) {
	w := NewBatchWriter(nil, 0, testLogger())
	assert.Equal(t, DefaultFlushThreshold, w.threshold)
}
