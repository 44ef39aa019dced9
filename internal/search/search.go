// Package search implements the streaming top-k search executor
// (spec.md §4.5): a single composed scan across chunks, embeddings, and
// optional projections/text/full-text tables, scored by cosine similarity
// and bounded to k results by insertion order.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/trans/memo/internal/errs"
	"github.com/trans/memo/internal/projection"
	"github.com/trans/memo/internal/store"
)

// Query carries every parameter the search executor composes into one scan.
type Query struct {
	QueryVector []float32
	ServiceID   int64
	Limit       int
	MinScore    float64

	SourceType *string
	SourceID   *int64
	PairID     *int64
	ParentID   *int64

	// SQLWhere is appended verbatim, parenthesized, as a trusted predicate
	// fragment (spec.md §9 "SQL fragment injection surface").
	SQLWhere string

	// ProjectionBasis and ProjectionThreshold enable the distance
	// pre-filter. A nil basis disables filtering entirely.
	ProjectionBasis     *[projection.K][]float64
	ProjectionThreshold float64

	Like        []string
	Match       string
	TextSchema  string
	IncludeText bool

	// MatchHashes restricts the scan to these hashes, populated by the
	// Service facade when the legacy Bleve text backend resolves a match
	// query out of its own index rather than the fts5 SQL join (spec.md §9,
	// "the Bleve backend ... is not join-compatible").
	MatchHashes [][store.HashSize]byte
}

// Result is one scored chunk.
type Result struct {
	ChunkID    int64
	Hash       [store.HashSize]byte
	SourceType string
	SourceID   int64
	PairID     *int64
	ParentID   *int64
	Offset     *int
	Size       int
	Score      float64
	Text       string
}

// Execute runs q against conn and returns the top q.Limit results by score
// descending, then increments match_count for every returned chunk as a
// final, best-effort set-based update (spec.md §4.5 step 8).
func Execute(ctx context.Context, conn *sql.DB, q Query) ([]Result, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if (q.Match != "" || len(q.Like) > 0 || q.IncludeText) && q.TextSchema == "" {
		return nil, errs.New(errs.CodeTextStorageRequired, "text filters and include_text require text storage to be enabled", nil)
	}

	sqlText, args := buildQuery(q)

	rows, err := conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, errs.StorageError("execute search scan", err)
	}
	defer rows.Close()

	top := newTopK(q.Limit)

	for rows.Next() {
		var (
			chunkID          int64
			hashBlob         []byte
			sourceType       string
			sourceID         int64
			pairID, parentID sql.NullInt64
			offset           sql.NullInt64
			size             int
			embeddingBlob    []byte
			text             sql.NullString
		)
		dest := []any{&chunkID, &hashBlob, &sourceType, &sourceID, &pairID, &parentID, &offset, &size, &embeddingBlob}
		if q.IncludeText {
			dest = append(dest, &text)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errs.StorageError("scan search row", err)
		}

		vec, err := store.DeserializeVectorF32(embeddingBlob)
		if err != nil {
			return nil, errs.StorageError("decode candidate vector", err)
		}

		score, err := Cosine(q.QueryVector, vec)
		if err != nil {
			return nil, err
		}
		if score < q.MinScore {
			continue
		}

		var hash [store.HashSize]byte
		copy(hash[:], hashBlob)

		res := Result{
			ChunkID: chunkID, Hash: hash, SourceType: sourceType, SourceID: sourceID,
			Size: size, Score: score,
		}
		if pairID.Valid {
			v := pairID.Int64
			res.PairID = &v
		}
		if parentID.Valid {
			v := parentID.Int64
			res.ParentID = &v
		}
		if offset.Valid {
			v := int(offset.Int64)
			res.Offset = &v
		}
		if text.Valid {
			res.Text = text.String
		}

		top.Insert(res)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.StorageError("iterate search rows", err)
	}

	results := top.Results()

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	if err := store.IncrementMatchCount(ctx, conn, ids); err != nil {
		// Best-effort per spec.md §5: the caller may log this, but a
		// counter-update failure does not invalidate the results already computed.
		return results, err
	}

	return results, nil
}

// Cosine computes cosine similarity; a zero-magnitude vector yields 0.
// Mismatched lengths are a dimension-mismatch error (should never occur
// when service_id scoping is honored).
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errs.New(errs.CodeDimensionMismatch,
			fmt.Sprintf("vector length mismatch: %d vs %d", len(a), len(b)), nil)
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
