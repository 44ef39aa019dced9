package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopK_BoundsToLimit(t *testing.T) {
	top := newTopK(2)
	top.Insert(Result{ChunkID: 1, Score: 0.5})
	top.Insert(Result{ChunkID: 2, Score: 0.9})
	top.Insert(Result{ChunkID: 3, Score: 0.7})

	got := top.Results()
	assert.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ChunkID)
	assert.Equal(t, int64(3), got[1].ChunkID)
}

func TestTopK_TieBreaksByInsertionOrder(t *testing.T) {
	top := newTopK(3)
	top.Insert(Result{ChunkID: 1, Score: 0.5})
	top.Insert(Result{ChunkID: 2, Score: 0.5})
	top.Insert(Result{ChunkID: 3, Score: 0.5})

	got := top.Results()
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].ChunkID, got[1].ChunkID, got[2].ChunkID})
}

func TestTopK_DiscardsBelowLimit(t *testing.T) {
	top := newTopK(1)
	top.Insert(Result{ChunkID: 1, Score: 0.9})
	top.Insert(Result{ChunkID: 2, Score: 0.1})

	got := top.Results()
	require := assert.New(t)
	require.Len(got, 1)
	require.Equal(int64(1), got[0].ChunkID)
}
