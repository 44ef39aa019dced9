package queue

import (
	"context"

	"github.com/trans/memo/internal/chunk"
	"github.com/trans/memo/internal/errs"
	"github.com/trans/memo/internal/projection"
	"github.com/trans/memo/internal/store"
)

// SetChunkOptions overrides the chunker thresholds used by embedAndStore.
// The Service facade calls this once at bind time after validating
// chunking_max_tokens against the service's max_tokens.
func (pr *Processor) SetChunkOptions(opts chunk.Options) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.chunkOpts = opts
}

// embedAndStore is the private operation named in spec.md §4.6: it calls
// the provider first (outside any write lock), then opens a single
// transaction that persists embeddings, projections, chunks, and optional
// text for every piece of the document.
func (pr *Processor) embedAndStore(ctx context.Context, item *store.QueueItem) error {
	text, pairID, parentID := store.DecodeQueueText(item.Text)

	pieces := chunk.Split(text, pr.chunkOpts)
	if len(pieces) == 0 {
		return nil
	}

	vectors, tokenCounts, _, err := pr.provider.EmbedTexts(ctx, pieces)
	if err != nil {
		return err
	}
	if len(vectors) != len(pieces) {
		return errs.New(errs.CodeDimensionMismatch, "provider returned a mismatched batch size", nil)
	}

	tx, err := pr.db.BeginTx(ctx)
	if err != nil {
		return errs.StorageError("begin embed_and_store transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	offset := 0
	hashes := make([][store.HashSize]byte, 0, len(pieces))
	for i, piece := range pieces {
		h := store.Hash(piece)
		hashes = append(hashes, h)

		if err := store.StoreEmbedding(ctx, tx, h, vectors[i], tokenCounts[i], pr.serviceID); err != nil {
			return err
		}

		proj := projection.ComputeProjectionF32(vectors[i], pr.basis)
		// Idempotent by construction: StoreEmbedding above only inserts on
		// a genuinely new hash, so a duplicate projection insert would
		// violate the primary key. Guard with an existence check.
		if existing, gerr := store.GetProjection(ctx, tx, h); gerr != nil {
			return gerr
		} else if existing == nil {
			if err := store.StoreProjection(ctx, tx, h, proj); err != nil {
				return err
			}
		}

		off := offset
		if _, err := store.CreateChunk(ctx, tx, h, item.SourceType, item.SourceID, &off, len([]rune(piece)), pairID, parentID); err != nil {
			return err
		}
		offset += len([]rune(piece)) + 1 // +1 for the combine-pass join space

		if pr.storeText {
			if err := store.StoreText(ctx, tx, pr.textAlias, h, piece); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pr.textIndex != nil {
		for i, piece := range pieces {
			if err := pr.textIndex.Index(ctx, hashes[i], piece); err != nil {
				return err
			}
		}
	}
	return nil
}
