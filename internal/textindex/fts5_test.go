package textindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trans/memo/internal/store"
)

func newAttachedTestDB(t *testing.T) *store.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.AttachText(context.Background(), filepath.Join(dir, "text.db"), "text_store"))
	return db
}

func TestFTS5Index_MatchFindsIndexedText(t *testing.T) {
	db := newAttachedTestDB(t)
	ctx := context.Background()

	h := store.Hash("elephants in the savanna")
	require.NoError(t, store.StoreText(ctx, db.Conn(), "text_store", h, "elephants roam the savanna at dusk"))

	idx, err := New(BackendFTS5, Config{Conn: db.Conn(), Alias: "text_store"})
	require.NoError(t, err)

	hits, err := idx.Match(ctx, "elephants", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, h, hits[0])
}

func TestFTS5Index_MatchNoHitsReturnsEmpty(t *testing.T) {
	db := newAttachedTestDB(t)
	idx, err := New(BackendFTS5, Config{Conn: db.Conn(), Alias: "text_store"})
	require.NoError(t, err)

	hits, err := idx.Match(context.Background(), "nonexistentword", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFTS5Index_IndexAndDeleteAreNoOps(t *testing.T) {
	db := newAttachedTestDB(t)
	idx, err := New(BackendFTS5, Config{Conn: db.Conn(), Alias: "text_store"})
	require.NoError(t, err)

	h := store.Hash("noop")
	assert.NoError(t, idx.Index(context.Background(), h, "content"))
	assert.NoError(t, idx.Delete([][store.HashSize]byte{h}))
	assert.NoError(t, idx.Close())
}
