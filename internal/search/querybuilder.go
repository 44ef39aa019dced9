package search

import (
	"fmt"
	"strings"

	"github.com/trans/memo/internal/projection"
)

func projectQuery(vec []float32, basis *[projection.K][]float64) [projection.K]float64 {
	return projection.ComputeProjectionF32(vec, *basis)
}

// buildQuery composes the single scanning query described by spec.md §4.5
// steps 1-6, returning the SQL text and its positional arguments.
func buildQuery(q Query) (string, []any) {
	var sb strings.Builder
	var args []any

	needProjection := q.ProjectionBasis != nil
	needText := q.TextSchema != "" && (len(q.Like) > 0 || q.IncludeText || q.Match != "")
	needFTS := q.TextSchema != "" && q.Match != ""

	sb.WriteString("SELECT c.id, c.hash, c.source_type, c.source_id, c.pair_id, c.parent_id, c.offset, c.size, e.embedding")
	if q.IncludeText {
		sb.WriteString(", t.content")
	}
	sb.WriteString(" FROM chunks c JOIN embeddings e ON c.hash = e.hash")

	if needProjection {
		sb.WriteString(" JOIN projections p ON c.hash = p.hash")
	}
	if needText {
		sb.WriteString(fmt.Sprintf(" JOIN %s.texts t ON c.hash = t.hash", q.TextSchema))
	}
	if needFTS {
		sb.WriteString(fmt.Sprintf(" JOIN %s.texts_fts fts ON c.hash = fts.hash", q.TextSchema))
	}

	var where []string
	where = append(where, "e.service_id = ?")
	args = append(args, q.ServiceID)

	if q.SourceType != nil {
		where = append(where, "c.source_type = ?")
		args = append(args, *q.SourceType)
	}
	if q.SourceID != nil {
		where = append(where, "c.source_id = ?")
		args = append(args, *q.SourceID)
	}
	if q.PairID != nil {
		where = append(where, "c.pair_id = ?")
		args = append(args, *q.PairID)
	}
	if q.ParentID != nil {
		where = append(where, "c.parent_id = ?")
		args = append(args, *q.ParentID)
	}

	if q.SQLWhere != "" {
		where = append(where, "("+q.SQLWhere+")")
	}

	for _, pattern := range q.Like {
		where = append(where, "t.content LIKE ?")
		args = append(args, pattern)
	}
	if q.Match != "" {
		where = append(where, "fts MATCH ?")
		args = append(args, q.Match)
	}
	if len(q.MatchHashes) > 0 {
		placeholders := make([]string, len(q.MatchHashes))
		for i, h := range q.MatchHashes {
			placeholders[i] = "?"
			args = append(args, h[:])
		}
		where = append(where, "c.hash IN ("+strings.Join(placeholders, ", ")+")")
	}

	if needProjection {
		queryProj := projectQuery(q.QueryVector, q.ProjectionBasis)
		var terms []string
		for i, v := range queryProj {
			terms = append(terms, fmt.Sprintf("(p.proj_%d - ?) * (p.proj_%d - ?)", i, i))
			args = append(args, v, v)
		}
		where = append(where, "("+strings.Join(terms, " + ")+") <= ?")
		args = append(args, q.ProjectionThreshold)
	}

	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	return sb.String(), args
}
