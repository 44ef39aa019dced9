package queue

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trans/memo/internal/projection"
	"github.com/trans/memo/internal/provider"
	"github.com/trans/memo/internal/store"
)

func newTestProcessor(t *testing.T) (*Processor, *store.DB) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc, err := db.RegisterService(context.Background(), "test", "mock", "", "m1", 8, 1000)
	require.NoError(t, err)

	basis := projection.GenerateOrthonormal(8, rand.New(rand.NewSource(1)))
	mock := provider.NewMockProvider(8)

	pr := NewProcessor(db, mock, svc.ID, basis, 10, 3, false, "")
	return pr, db
}

func newTestProcessorWithText(t *testing.T) (*Processor, *store.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.AttachText(context.Background(), filepath.Join(dir, "text.db"), "text_store"))

	svc, err := db.RegisterService(context.Background(), "test", "mock", "", "m1", 8, 1000)
	require.NoError(t, err)

	basis := projection.GenerateOrthonormal(8, rand.New(rand.NewSource(1)))
	mock := provider.NewMockProvider(8)

	pr := NewProcessor(db, mock, svc.ID, basis, 10, 3, true, "text_store")
	return pr, db
}

func TestIndex_EnqueuesAndProcessesSynchronously(t *testing.T) {
	pr, db := newTestProcessor(t)
	ctx := context.Background()

	err := pr.Index(ctx, "note", 1, "a short piece of text to embed", nil, nil)
	require.NoError(t, err)

	item, err := db.GetQueueItem(ctx, "note", 1)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, store.QueueStatusSuccess, item.Status)

	chunks, err := store.ChunksBySourceID(ctx, db.Conn(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestProcessQueue_DrainsAllPendingItems(t *testing.T) {
	pr, db := newTestProcessor(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		_, err := pr.Enqueue(ctx, "note", i, "some body text number", nil, nil)
		require.NoError(t, err)
	}

	require.NoError(t, pr.ProcessQueue(ctx))

	for i := int64(1); i <= 5; i++ {
		item, err := db.GetQueueItem(ctx, "note", i)
		require.NoError(t, err)
		assert.Equal(t, store.QueueStatusSuccess, item.Status)
	}
}

func TestDelete_RemovesChunksAndGCsOrphanedEmbeddings(t *testing.T) {
	pr, db := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, pr.Index(ctx, "note", 1, "unique content for deletion test", nil, nil))

	deleted, err := pr.Delete(ctx, 1, "note")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	chunks, err := store.ChunksBySourceID(ctx, db.Conn(), 1)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestDelete_NoChunksReturnsZero(t *testing.T) {
	pr, _ := newTestProcessor(t)
	deleted, err := pr.Delete(context.Background(), 999, "note")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestProcessAsync_CloseWaitsForCompletion(t *testing.T) {
	pr, db := newTestProcessor(t)
	ctx := context.Background()

	_, err := pr.Enqueue(ctx, "note", 1, "background processed text", nil, nil)
	require.NoError(t, err)

	pr.ProcessAsync(ctx)
	pr.Close()

	item, err := db.GetQueueItem(ctx, "note", 1)
	require.NoError(t, err)
	assert.Equal(t, store.QueueStatusSuccess, item.Status)
}

func TestReindex_UsesStoredTextRatherThanLookup(t *testing.T) {
	pr, db := newTestProcessorWithText(t)
	ctx := context.Background()

	const original = "stored text used for reindexing this note"
	require.NoError(t, pr.Index(ctx, "note", 1, original, nil, nil))

	lookupCalled := false
	lookup := func(ctx context.Context, sourceID int64) (string, error) {
		lookupCalled = true
		return "fallback text that should never be used", nil
	}

	count, err := pr.Reindex(ctx, "note", lookup)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, lookupCalled, "reindex should resolve text from the text store, not the fallback lookup")

	item, err := db.GetQueueItem(ctx, "note", 1)
	require.NoError(t, err)
	require.NotNil(t, item)
	text, _, _ := store.DecodeQueueText(item.Text)
	assert.Equal(t, original, text)
}

func TestReindex_FallsBackToLookupWhenTextStorageDisabled(t *testing.T) {
	pr, db := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, pr.Index(ctx, "note", 1, "content that is not persisted as text", nil, nil))

	lookup := func(ctx context.Context, sourceID int64) (string, error) {
		return "text resolved via the caller-supplied lookup", nil
	}

	count, err := pr.Reindex(ctx, "note", lookup)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	item, err := db.GetQueueItem(ctx, "note", 1)
	require.NoError(t, err)
	text, _, _ := store.DecodeQueueText(item.Text)
	assert.Equal(t, "text resolved via the caller-supplied lookup", text)
}

func TestReindex_MultiChunkSourceRejoinsInOffsetOrder(t *testing.T) {
	pr, db := newTestProcessorWithText(t)
	ctx := context.Background()

	// Three distinct paragraphs of about 105 estimated tokens each: above
	// the default MinTokens, so the default chunker keeps them as three
	// separate chunks.
	var paras []string
	for p := 0; p < 3; p++ {
		var para string
		for i := 0; i < 8; i++ {
			para += fmt.Sprintf("Paragraph %d sentence %d is filler text to pad it out. ", p, i)
		}
		paras = append(paras, strings.TrimSpace(para))
	}
	require.NoError(t, pr.Index(ctx, "note", 1, strings.Join(paras, "\n\n"), nil, nil))

	chunks, err := store.ChunksBySourceID(ctx, db.Conn(), 1)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	count, err := pr.Reindex(ctx, "note", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	item, err := db.GetQueueItem(ctx, "note", 1)
	require.NoError(t, err)
	text, _, _ := store.DecodeQueueText(item.Text)
	assert.Equal(t, strings.Join(paras, " "), text)
}
