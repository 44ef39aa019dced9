package queue

import (
	"context"
	"database/sql"
	"sort"

	"github.com/trans/memo/internal/store"
)

// TextLookup resolves the text for a source_id when text storage is
// disabled; reindex falls back to it when no stored text is available.
type TextLookup func(ctx context.Context, sourceID int64) (string, error)

// Reindex deletes every chunk currently indexed under sourceType for this
// service and re-enqueues each distinct source using its stored text, or
// lookup when text storage is disabled. The chunk delete and orphan GC run in
// one transaction, which commits before any source is re-enqueued; each
// source is then re-enqueued by its own statement outside that transaction,
// so an error part-way through leaves the remaining sources deleted and not
// re-enqueued. Processing the re-enqueued items is a separate step left to
// the caller (ProcessQueue).
func (pr *Processor) Reindex(ctx context.Context, sourceType string, lookup TextLookup) (int, error) {
	chunks, err := store.ChunksByType(ctx, pr.db.Conn(), sourceType)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	type sourceKey struct {
		sourceID int64
		pairID   *int64
		parentID *int64
	}
	seen := make(map[int64]sourceKey)
	bySource := make(map[int64][]*store.Chunk)
	var ids []int64
	for _, c := range chunks {
		ids = append(ids, c.ID)
		if _, ok := seen[c.SourceID]; !ok {
			seen[c.SourceID] = sourceKey{sourceID: c.SourceID, pairID: c.PairID, parentID: c.ParentID}
		}
		bySource[c.SourceID] = append(bySource[c.SourceID], c)
	}

	// Resolve stored text from the chunks gathered above, before the delete
	// transaction removes those rows — querying the chunks table again
	// afterward would always come back empty.
	storedText := make(map[int64]string, len(bySource))
	if pr.storeText {
		for sourceID, srcChunks := range bySource {
			text, ok, err := pr.joinStoredText(ctx, srcChunks)
			if err != nil {
				return 0, err
			}
			if ok {
				storedText[sourceID] = text
			}
		}
	}

	tx, err := pr.db.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

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
			return 0, err
		}
	}

	count := 0
	for _, key := range seen {
		text, err := pr.resolveText(ctx, key.sourceID, storedText, lookup)
		if err != nil {
			return count, err
		}
		if _, err := pr.Enqueue(ctx, sourceType, key.sourceID, text, key.pairID, key.parentID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (pr *Processor) resolveText(ctx context.Context, sourceID int64, storedText map[int64]string, lookup TextLookup) (string, error) {
	if text, ok := storedText[sourceID]; ok {
		return text, nil
	}
	if lookup == nil {
		return "", nil
	}
	return lookup(ctx, sourceID)
}

// joinStoredText reads each chunk's stored text and rejoins it in offset
// order. srcChunks must come from a single source_id/source_type pair
// fetched before any delete of those rows.
func (pr *Processor) joinStoredText(ctx context.Context, srcChunks []*store.Chunk) (string, bool, error) {
	if len(srcChunks) == 0 {
		return "", false, nil
	}
	ordered := make([]*store.Chunk, len(srcChunks))
	copy(ordered, srcChunks)
	sort.Slice(ordered, func(i, j int) bool {
		oi, oj := ordered[i].Offset, ordered[j].Offset
		if oi == nil || oj == nil {
			return ordered[i].ID < ordered[j].ID
		}
		return *oi < *oj
	})

	var parts []string
	for _, c := range ordered {
		text, ok, err := store.GetText(ctx, pr.db.Conn(), pr.textAlias, c.Hash)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, nil
		}
		parts = append(parts, text)
	}
	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += " "
		}
		joined += p
	}
	return joined, true, nil
}

// gcOrphans deletes the embedding and projection for every hash among
// touched that no longer has any referencing chunk, and returns those
// hashes so the caller can evict them from any secondary text index once
// the transaction commits.
func gcOrphans(ctx context.Context, tx *sql.Tx, touched []*store.Chunk) ([][store.HashSize]byte, error) {
	seen := make(map[[store.HashSize]byte]bool)
	var orphaned [][store.HashSize]byte
	for _, c := range touched {
		if seen[c.Hash] {
			continue
		}
		seen[c.Hash] = true

		n, err := store.CountChunkRefs(ctx, tx, c.Hash)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			continue
		}
		if err := store.DeleteProjection(ctx, tx, c.Hash); err != nil {
			return nil, err
		}
		if err := store.DeleteEmbedding(ctx, tx, c.Hash); err != nil {
			return nil, err
		}
		orphaned = append(orphaned, c.Hash)
	}
	return orphaned, nil
}
