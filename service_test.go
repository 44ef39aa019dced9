package memo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trans/memo/internal/config"
	"github.com/trans/memo/internal/projection"
)

func openTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := Open(context.Background(), config.Params{
		DataDir:    t.TempDir(),
		Format:     "mock",
		Model:      "m1",
		Dimensions: 8,
		MaxTokens:  1000,
		StoreText:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestOpen_BindsServiceAndGeneratesProjectionVectors(t *testing.T) {
	svc := openTestService(t)
	info := svc.Info()
	assert.Equal(t, "mock", info.Format)
	assert.Equal(t, "m1", info.Model)

	vecs, err := svc.db.GetProjectionVectors(context.Background(), info.ID)
	require.NoError(t, err)
	for i, v := range vecs {
		assert.Len(t, v, 8, "persisted projection vector %d", i)
	}
}

func TestOpen_ReopenReusesSameServiceAndBasis(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	params := config.Params{DataDir: dir, Format: "mock", Model: "m1", Dimensions: 8, MaxTokens: 1000}

	first, err := Open(ctx, params)
	require.NoError(t, err)
	firstID := first.Info().ID
	require.NoError(t, first.Close())

	second, err := Open(ctx, params)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, firstID, second.Info().ID)
	assert.Equal(t, projection.BasisToStore(first.basis), projection.BasisToStore(second.basis))
}

func TestIndexAndSearch_FindsIndexedContent(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Index(ctx, "note", 1, "the mitochondria is the powerhouse of the cell", nil, nil))

	results, err := svc.Search(ctx, SearchParams{Query: "the mitochondria is the powerhouse of the cell", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func openTestServiceWithBleve(t *testing.T) *Service {
	t.Helper()
	svc, err := Open(context.Background(), config.Params{
		DataDir:     t.TempDir(),
		Format:      "mock",
		Model:       "m1",
		Dimensions:  8,
		MaxTokens:   1000,
		StoreText:   true,
		TextBackend: "bleve",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestSearch_BleveMatchWithHitsReturnsResults(t *testing.T) {
	svc := openTestServiceWithBleve(t)
	ctx := context.Background()

	require.NoError(t, svc.Index(ctx, "note", 1, "elephants roam the savanna at dusk", nil, nil))

	results, err := svc.Search(ctx, SearchParams{
		Query: "elephants roam the savanna at dusk",
		Match: "elephants",
		Limit: 5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestSearch_BleveMatchWithNoHitsReturnsEmptyResults(t *testing.T) {
	svc := openTestServiceWithBleve(t)
	ctx := context.Background()

	// Index content that is semantically close to the query under the mock
	// provider but does not contain the match term, so a correct
	// implementation returns nothing while a buggy one (treating zero Bleve
	// hits as "no match filter") would return this chunk ranked by cosine.
	require.NoError(t, svc.Index(ctx, "note", 1, "elephants roam the savanna at dusk", nil, nil))

	results, err := svc.Search(ctx, SearchParams{
		Query: "elephants roam the savanna at dusk",
		Match: "giraffes",
		Limit: 5,
	})
	require.NoError(t, err)
	assert.Empty(t, results, "a zero-hit full-text match must not fall back to unfiltered cosine ranking")
}

func TestDelete_RemovesIndexedChunks(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Index(ctx, "note", 1, "some note content to later delete", nil, nil))

	deleted, err := svc.Delete(ctx, 1, "note")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Chunks)
}

