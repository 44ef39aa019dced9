package queue

import (
	"context"

	"github.com/trans/memo/internal/store"
)

// Delete removes every chunk for sourceID — scoped to sourceType when
// non-empty — garbage-collecting embeddings and projections whose
// reference count drops to zero, and returns the number of chunks deleted
// (spec.md §4.7 "delete(source_id, source_type?)").
func (pr *Processor) Delete(ctx context.Context, sourceID int64, sourceType string) (int, error) {
	var chunks []*store.Chunk
	var err error
	if sourceType != "" {
		chunks, err = store.ChunksBySource(ctx, pr.db.Conn(), sourceType, sourceID)
	} else {
		chunks, err = store.ChunksBySourceID(ctx, pr.db.Conn(), sourceID)
	}
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := pr.db.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := store.DeleteChunksByIDs(ctx, tx, ids); err != nil {
		return 0, err
	}

	orphaned, err := gcOrphans(ctx, tx, chunks)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if pr.textIndex != nil && len(orphaned) > 0 {
		if err := pr.textIndex.Delete(orphaned); err != nil {
			return len(chunks), err
		}
	}
	return len(chunks), nil
}
