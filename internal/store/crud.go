package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trans/memo/internal/errs"
)

// --- services ---------------------------------------------------------

// RegisterService returns the existing Service if name is already taken,
// otherwise inserts a new one. When name is empty it is synthesized as
// "{format}/{model}" (spec.md §4.1).
func (d *DB) RegisterService(ctx context.Context, name, format, baseURL, model string, dimensions, maxTokens int) (*Service, error) {
	if name == "" {
		name = fmt.Sprintf("%s/%s", format, model)
	}

	if existing, err := d.GetServiceByName(ctx, name); err == nil {
		return existing, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	now := time.Now()
	res, err := d.conn.ExecContext(ctx,
		`INSERT INTO services (name, format, base_url, model, dimensions, max_tokens, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		name, format, nullIfEmpty(baseURL), model, dimensions, maxTokens, now.UnixMilli())
	if err != nil {
		return nil, errs.StorageError("insert service", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errs.StorageError("read inserted service id", err)
	}

	return &Service{
		ID: id, Name: name, Format: format, BaseURL: baseURL, Model: model,
		Dimensions: dimensions, MaxTokens: maxTokens, CreatedAt: now,
	}, nil
}

func (d *DB) GetServiceByName(ctx context.Context, name string) (*Service, error) {
	return scanService(d.conn.QueryRowContext(ctx,
		`SELECT id, name, format, base_url, model, dimensions, max_tokens, created_at FROM services WHERE name = ?`, name))
}

func (d *DB) GetServiceByID(ctx context.Context, id int64) (*Service, error) {
	return scanService(d.conn.QueryRowContext(ctx,
		`SELECT id, name, format, base_url, model, dimensions, max_tokens, created_at FROM services WHERE id = ?`, id))
}

func (d *DB) ListServices(ctx context.Context) ([]*Service, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, name, format, base_url, model, dimensions, max_tokens, created_at FROM services ORDER BY id`)
	if err != nil {
		return nil, errs.StorageError("list services", err)
	}
	defer rows.Close()

	var out []*Service
	for rows.Next() {
		svc, err := scanServiceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// DeleteService removes a service and, if force is set, cascades to its
// projection vectors, projections, embeddings, and chunks. Without force it
// refuses when the service still has embeddings (spec.md §3 "Referential error").
func (d *DB) DeleteService(ctx context.Context, id int64, force bool) error {
	var count int
	if err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE service_id = ?`, id).Scan(&count); err != nil {
		return errs.StorageError("count service embeddings", err)
	}
	if count > 0 && !force {
		return errs.New(errs.CodeServiceHasEmbeddings,
			fmt.Sprintf("service %d still has %d embeddings; pass force to delete anyway", id, count), nil).
			WithDetail("embedding_count", fmt.Sprintf("%d", count))
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return errs.StorageError("begin delete-service transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`DELETE FROM chunks WHERE hash IN (SELECT hash FROM embeddings WHERE service_id = ?)`,
		`DELETE FROM projections WHERE hash IN (SELECT hash FROM embeddings WHERE service_id = ?)`,
		`DELETE FROM embeddings WHERE service_id = ?`,
		`DELETE FROM projection_vectors WHERE service_id = ?`,
		`DELETE FROM services WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return errs.StorageError("cascade delete service", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.StorageError("commit delete-service transaction", err)
	}
	return nil
}

func scanService(row *sql.Row) (*Service, error) {
	var svc Service
	var baseURL sql.NullString
	var createdMs int64
	err := row.Scan(&svc.ID, &svc.Name, &svc.Format, &baseURL, &svc.Model, &svc.Dimensions, &svc.MaxTokens, &createdMs)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.CodeUnknownService, "service not found", err)
	}
	if err != nil {
		return nil, errs.StorageError("scan service", err)
	}
	svc.BaseURL = baseURL.String
	svc.CreatedAt = time.UnixMilli(createdMs)
	return &svc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServiceRow(row rowScanner) (*Service, error) {
	var svc Service
	var baseURL sql.NullString
	var createdMs int64
	if err := row.Scan(&svc.ID, &svc.Name, &svc.Format, &baseURL, &svc.Model, &svc.Dimensions, &svc.MaxTokens, &createdMs); err != nil {
		return nil, errs.StorageError("scan service row", err)
	}
	svc.BaseURL = baseURL.String
	svc.CreatedAt = time.UnixMilli(createdMs)
	return &svc, nil
}

func isNotFound(err error) bool {
	ae, ok := err.(*errs.Error)
	return ok && ae.Code == errs.CodeUnknownService
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// --- embeddings ---------------------------------------------------------

// StoreEmbedding inserts the embedding for hash if absent (idempotent by
// hash, spec.md §3 "Embedding"). It refuses to overwrite a hash that
// already belongs to a different service (Open Question (i), resolved:
// reject rather than silently ignore).
func StoreEmbedding(ctx context.Context, q dbtx, hash [HashSize]byte, vector []float32, tokenCount int, serviceID int64) error {
	var existingService int64
	err := q.QueryRowContext(ctx, `SELECT service_id FROM embeddings WHERE hash = ?`, hash[:]).Scan(&existingService)
	switch {
	case err == sql.ErrNoRows:
		_, err := q.ExecContext(ctx,
			`INSERT INTO embeddings (hash, embedding, token_count, service_id, created_at) VALUES (?, ?, ?, ?, ?)`,
			hash[:], SerializeVectorF32(vector), tokenCount, serviceID, time.Now().UnixMilli())
		if err != nil {
			return errs.StorageError("insert embedding", err)
		}
		return nil
	case err != nil:
		return errs.StorageError("check existing embedding", err)
	case existingService != serviceID:
		return errs.New(errs.CodeServiceMismatch,
			fmt.Sprintf("hash already embedded under service %d, cannot store under service %d", existingService, serviceID), nil)
	default:
		// Idempotent: identical hash under the same service is a no-op.
		return nil
	}
}

func (d *DB) StoreEmbedding(ctx context.Context, hash [HashSize]byte, vector []float32, tokenCount int, serviceID int64) error {
	return StoreEmbedding(ctx, d.conn, hash, vector, tokenCount, serviceID)
}

func GetEmbedding(ctx context.Context, q dbtx, hash [HashSize]byte) (*Embedding, error) {
	var blob []byte
	var e Embedding
	var createdMs int64
	err := q.QueryRowContext(ctx, `SELECT embedding, token_count, service_id, created_at FROM embeddings WHERE hash = ?`, hash[:]).
		Scan(&blob, &e.TokenCount, &e.ServiceID, &createdMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StorageError("get embedding", err)
	}
	vec, err := DeserializeVectorF32(blob)
	if err != nil {
		return nil, errs.StorageError("decode embedding vector", err)
	}
	e.Hash = hash
	e.Vector = vec
	e.CreatedAt = time.UnixMilli(createdMs)
	return &e, nil
}

func (d *DB) GetEmbedding(ctx context.Context, hash [HashSize]byte) (*Embedding, error) {
	return GetEmbedding(ctx, d.conn, hash)
}

func DeleteEmbedding(ctx context.Context, q dbtx, hash [HashSize]byte) error {
	_, err := q.ExecContext(ctx, `DELETE FROM embeddings WHERE hash = ?`, hash[:])
	if err != nil {
		return errs.StorageError("delete embedding", err)
	}
	return nil
}

// --- projections ---------------------------------------------------------

// StoreProjection inserts the K=8 projection values for hash. Created in
// the same transaction as its embedding (spec.md §3 "Projection" lifecycle).
func StoreProjection(ctx context.Context, q dbtx, hash [HashSize]byte, proj [ProjectionK]float64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO projections (hash, proj_0, proj_1, proj_2, proj_3, proj_4, proj_5, proj_6, proj_7)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		hash[:], proj[0], proj[1], proj[2], proj[3], proj[4], proj[5], proj[6], proj[7])
	if err != nil {
		return errs.StorageError("insert projection", err)
	}
	return nil
}

func (d *DB) StoreProjection(ctx context.Context, hash [HashSize]byte, proj [ProjectionK]float64) error {
	return StoreProjection(ctx, d.conn, hash, proj)
}

func GetProjection(ctx context.Context, q dbtx, hash [HashSize]byte) (*Projection, error) {
	var p Projection
	err := q.QueryRowContext(ctx,
		`SELECT proj_0, proj_1, proj_2, proj_3, proj_4, proj_5, proj_6, proj_7 FROM projections WHERE hash = ?`, hash[:]).
		Scan(&p.Proj[0], &p.Proj[1], &p.Proj[2], &p.Proj[3], &p.Proj[4], &p.Proj[5], &p.Proj[6], &p.Proj[7])
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StorageError("get projection", err)
	}
	p.Hash = hash
	return &p, nil
}

func DeleteProjection(ctx context.Context, q dbtx, hash [HashSize]byte) error {
	_, err := q.ExecContext(ctx, `DELETE FROM projections WHERE hash = ?`, hash[:])
	if err != nil {
		return errs.StorageError("delete projection", err)
	}
	return nil
}

// --- projection vectors (one row per service, immutable once written) ---

func (d *DB) SaveProjectionVectors(ctx context.Context, serviceID int64, vecs [ProjectionK][]float32) error {
	args := make([]any, 0, 9)
	args = append(args, serviceID)
	for _, v := range vecs {
		args = append(args, SerializeVectorF32(v))
	}
	args = append(args, time.Now().UnixMilli())

	_, err := d.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO projection_vectors
		 (service_id, vec_0, vec_1, vec_2, vec_3, vec_4, vec_5, vec_6, vec_7, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return errs.StorageError("insert projection vectors", err)
	}
	return nil
}

func (d *DB) GetProjectionVectors(ctx context.Context, serviceID int64) ([ProjectionK][]float32, error) {
	var blobs [ProjectionK][]byte
	err := d.conn.QueryRowContext(ctx,
		`SELECT vec_0, vec_1, vec_2, vec_3, vec_4, vec_5, vec_6, vec_7 FROM projection_vectors WHERE service_id = ?`, serviceID).
		Scan(&blobs[0], &blobs[1], &blobs[2], &blobs[3], &blobs[4], &blobs[5], &blobs[6], &blobs[7])
	if err == sql.ErrNoRows {
		return [ProjectionK][]float32{}, nil
	}
	if err != nil {
		return [ProjectionK][]float32{}, errs.StorageError("get projection vectors", err)
	}
	var out [ProjectionK][]float32
	for i, b := range blobs {
		v, err := DeserializeVectorF32(b)
		if err != nil {
			return [ProjectionK][]float32{}, errs.StorageError("decode projection vector", err)
		}
		out[i] = v
	}
	return out, nil
}

// --- chunks ---------------------------------------------------------

func CreateChunk(ctx context.Context, q dbtx, hash [HashSize]byte, sourceType string, sourceID int64, offset *int, size int, pairID, parentID *int64) (*Chunk, error) {
	now := time.Now()
	res, err := q.ExecContext(ctx,
		`INSERT INTO chunks (hash, source_type, source_id, pair_id, parent_id, offset, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		hash[:], sourceType, sourceID, nullInt64(pairID), nullInt64(parentID), nullInt(offset), size, now.UnixMilli())
	if err != nil {
		return nil, errs.StorageError("insert chunk", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errs.StorageError("read inserted chunk id", err)
	}
	return &Chunk{
		ID: id, Hash: hash, SourceType: sourceType, SourceID: sourceID,
		PairID: pairID, ParentID: parentID, Offset: offset, Size: size, CreatedAt: now,
	}, nil
}

// ChunksBySource returns every chunk currently indexed under (source_type,
// source_id). Used by delete() and reindex() to discover affected hashes.
func ChunksBySource(ctx context.Context, q dbtx, sourceType string, sourceID int64) ([]*Chunk, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, hash, source_type, source_id, pair_id, parent_id, offset, size, match_count, read_count, created_at
		 FROM chunks WHERE source_type = ? AND source_id = ?`, sourceType, sourceID)
	if err != nil {
		return nil, errs.StorageError("query chunks by source", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ChunksBySourceID returns every chunk currently indexed under source_id,
// regardless of source_type — used by delete() when the caller does not
// scope the deletion to one source_type.
func ChunksBySourceID(ctx context.Context, q dbtx, sourceID int64) ([]*Chunk, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, hash, source_type, source_id, pair_id, parent_id, offset, size, match_count, read_count, created_at
		 FROM chunks WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, errs.StorageError("query chunks by source id", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ChunksByType returns every chunk currently indexed under source_type,
// regardless of source_id — used by reindex() to compute the affected set.
func ChunksByType(ctx context.Context, q dbtx, sourceType string) ([]*Chunk, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, hash, source_type, source_id, pair_id, parent_id, offset, size, match_count, read_count, created_at
		 FROM chunks WHERE source_type = ?`, sourceType)
	if err != nil {
		return nil, errs.StorageError("query chunks by type", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]*Chunk, error) {
	var out []*Chunk
	for rows.Next() {
		var c Chunk
		var hashBlob []byte
		var pairID, parentID, offset sql.NullInt64
		var createdMs int64
		if err := rows.Scan(&c.ID, &hashBlob, &c.SourceType, &c.SourceID, &pairID, &parentID, &offset, &c.Size, &c.MatchCount, &c.ReadCount, &createdMs); err != nil {
			return nil, errs.StorageError("scan chunk row", err)
		}
		copy(c.Hash[:], hashBlob)
		if pairID.Valid {
			v := pairID.Int64
			c.PairID = &v
		}
		if parentID.Valid {
			v := parentID.Int64
			c.ParentID = &v
		}
		if offset.Valid {
			v := int(offset.Int64)
			c.Offset = &v
		}
		c.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteChunksByIDs removes chunks by id. Embedding/projection GC is the
// caller's responsibility (ref-count checked after the delete, spec.md §4.7).
func DeleteChunksByIDs(ctx context.Context, q dbtx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := inClause(ids)
	_, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return errs.StorageError("delete chunks", err)
	}
	return nil
}

// CountChunkRefs returns how many chunks still reference hash, used to
// decide whether its embedding/projection should be garbage collected.
func CountChunkRefs(ctx context.Context, q dbtx, hash [HashSize]byte) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE hash = ?`, hash[:]).Scan(&n)
	if err != nil {
		return 0, errs.StorageError("count chunk refs", err)
	}
	return n, nil
}

// IncrementMatchCount and IncrementReadCount are set-based updates; an
// empty id list is a no-op (spec.md §4.1).
func IncrementMatchCount(ctx context.Context, q dbtx, chunkIDs []int64) error {
	return incrementCounter(ctx, q, "match_count", chunkIDs)
}

func IncrementReadCount(ctx context.Context, q dbtx, chunkIDs []int64) error {
	return incrementCounter(ctx, q, "read_count", chunkIDs)
}

func incrementCounter(ctx context.Context, q dbtx, column string, chunkIDs []int64) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	placeholders, args := inClause(chunkIDs)
	_, err := q.ExecContext(ctx, `UPDATE chunks SET `+column+` = `+column+` + 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return errs.StorageError("increment "+column, err)
	}
	return nil
}

func (d *DB) IncrementMatchCount(ctx context.Context, chunkIDs []int64) error {
	return IncrementMatchCount(ctx, d.conn, chunkIDs)
}

func (d *DB) IncrementReadCount(ctx context.Context, chunkIDs []int64) error {
	return IncrementReadCount(ctx, d.conn, chunkIDs)
}

// --- stats ---------------------------------------------------------

func (d *DB) Stats(ctx context.Context, serviceID int64) (*Stats, error) {
	var s Stats
	err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE service_id = ?`, serviceID).Scan(&s.Embeddings)
	if err != nil {
		return nil, errs.StorageError("count embeddings", err)
	}
	err = d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE hash IN (SELECT hash FROM embeddings WHERE service_id = ?)`, serviceID).Scan(&s.Chunks)
	if err != nil {
		return nil, errs.StorageError("count chunks", err)
	}
	err = d.conn.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT source_type || ':' || source_id) FROM chunks WHERE hash IN (SELECT hash FROM embeddings WHERE service_id = ?)`, serviceID).Scan(&s.Sources)
	if err != nil {
		return nil, errs.StorageError("count sources", err)
	}
	return &s, nil
}

// --- helpers ---------------------------------------------------------

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	var placeholders string
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}
	return placeholders, args
}
