package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRegisterService_IdempotentByName(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, err := db.RegisterService(ctx, "svc1", "mock", "", "m1", 8, 100)
	require.NoError(t, err)

	b, err := db.RegisterService(ctx, "svc1", "mock", "", "m1", 8, 100)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
}

func TestRegisterService_SynthesizesNameFromFormatModel(t *testing.T) {
	db := openTestDB(t)
	svc, err := db.RegisterService(context.Background(), "", "mock", "", "m1", 8, 100)
	require.NoError(t, err)
	assert.Equal(t, "mock/m1", svc.Name)
}

func TestStoreEmbedding_RejectsCrossServiceHash(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s1, err := db.RegisterService(ctx, "s1", "mock", "", "m1", 4, 100)
	require.NoError(t, err)
	s2, err := db.RegisterService(ctx, "s2", "mock", "", "m2", 4, 100)
	require.NoError(t, err)

	h := Hash("shared text")
	require.NoError(t, db.StoreEmbedding(ctx, h, []float32{1, 2, 3, 4}, 2, s1.ID))

	err = db.StoreEmbedding(ctx, h, []float32{1, 2, 3, 4}, 2, s2.ID)
	assert.Error(t, err, "a hash already owned by a different service must be rejected")
}

func TestStoreEmbedding_SameServiceIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s1, err := db.RegisterService(ctx, "s1", "mock", "", "m1", 4, 100)
	require.NoError(t, err)

	h := Hash("idempotent text")
	require.NoError(t, db.StoreEmbedding(ctx, h, []float32{1, 2, 3, 4}, 2, s1.ID))
	require.NoError(t, db.StoreEmbedding(ctx, h, []float32{1, 2, 3, 4}, 2, s1.ID))
}

func TestCreateChunk_AndStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	svc, err := db.RegisterService(ctx, "s1", "mock", "", "m1", 4, 100)
	require.NoError(t, err)

	h := Hash("chunked text")
	require.NoError(t, db.StoreEmbedding(ctx, h, []float32{1, 2, 3, 4}, 2, svc.ID))

	off := 0
	_, err = CreateChunk(ctx, db.Conn(), h, "event", 1, &off, 12, nil, nil)
	require.NoError(t, err)

	stats, err := db.Stats(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Embeddings)
	assert.Equal(t, 1, stats.Chunks)
	assert.Equal(t, 1, stats.Sources)
}

func TestDeleteService_RefusesWithEmbeddingsUnlessForced(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	svc, err := db.RegisterService(ctx, "s1", "mock", "", "m1", 4, 100)
	require.NoError(t, err)
	require.NoError(t, db.StoreEmbedding(ctx, Hash("x"), []float32{1, 2, 3, 4}, 1, svc.ID))

	err = db.DeleteService(ctx, svc.ID, false)
	assert.Error(t, err)

	err = db.DeleteService(ctx, svc.ID, true)
	assert.NoError(t, err)
}

func TestChunksBySourceID_AnySourceType(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	svc, err := db.RegisterService(ctx, "s1", "mock", "", "m1", 4, 100)
	require.NoError(t, err)

	h := Hash("cross type")
	require.NoError(t, db.StoreEmbedding(ctx, h, []float32{1, 2, 3, 4}, 1, svc.ID))
	_, err = CreateChunk(ctx, db.Conn(), h, "event", 9, nil, 4, nil, nil)
	require.NoError(t, err)

	chunks, err := ChunksBySourceID(ctx, db.Conn(), 9)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "event", chunks[0].SourceType)
}
