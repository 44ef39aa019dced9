package textindex

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/trans/memo/internal/errs"
	"github.com/trans/memo/internal/store"
)

// bleveIndex is the legacy full-text backend: a standalone Bleve v2 index
// keyed by hex-encoded content hash, kept in sync by explicit Index/Delete
// calls rather than a SQL trigger. Single-process only, per BoltDB's
// exclusive file lock.
type bleveIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string
}

type bleveDoc struct {
	Content string `json:"content"`
}

func newBleveIndex(path string) (*bleveIndex, error) {
	mappingImpl := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mappingImpl)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, errs.StorageError("create bleve index directory", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mappingImpl)
		}
	}
	if err != nil {
		return nil, errs.StorageError(fmt.Sprintf("open bleve index at %q", path), err)
	}

	return &bleveIndex{index: idx, path: path}, nil
}

// Index stores content under hash, overwriting any prior document for that
// hash (a no-op in practice since content is immutable once hashed).
func (b *bleveIndex) Index(ctx context.Context, hash [store.HashSize]byte, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.index.Index(hex.EncodeToString(hash[:]), bleveDoc{Content: content}); err != nil {
		return errs.StorageError("bleve index document", err)
	}
	return nil
}

func (b *bleveIndex) Match(ctx context.Context, query string, limit int) ([][store.HashSize]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errs.StorageError("bleve search", err)
	}

	out := make([][store.HashSize]byte, 0, len(result.Hits))
	for _, hit := range result.Hits {
		raw, err := hex.DecodeString(hit.ID)
		if err != nil || len(raw) != store.HashSize {
			continue
		}
		var h [store.HashSize]byte
		copy(h[:], raw)
		out = append(out, h)
	}
	return out, nil
}

func (b *bleveIndex) Delete(docHashes [][store.HashSize]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.index.NewBatch()
	for _, h := range docHashes {
		batch.Delete(hex.EncodeToString(h[:]))
	}
	if err := b.index.Batch(batch); err != nil {
		return errs.StorageError("bleve delete batch", err)
	}
	return nil
}

func (b *bleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
