package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/trans/memo/internal/errs"
)

// queueMetaPrefix marks queue.text payloads that carry pair_id/parent_id
// metadata ahead of the literal text, per spec.md §4.6:
// "MEMO_META:{pair_id},{parent_id}\n{text}". Either id may be empty.
const queueMetaPrefix = "MEMO_META:"

// EncodeQueueText prepends the metadata line when pairID or parentID is set,
// otherwise returns text unchanged.
func EncodeQueueText(text string, pairID, parentID *int64) string {
	if pairID == nil && parentID == nil {
		return text
	}
	var pair, parent string
	if pairID != nil {
		pair = strconv.FormatInt(*pairID, 10)
	}
	if parentID != nil {
		parent = strconv.FormatInt(*parentID, 10)
	}
	return queueMetaPrefix + pair + "," + parent + "\n" + text
}

// DecodeQueueText splits a stored queue text back into its metadata and
// literal content. Absent ids decode to nil.
func DecodeQueueText(stored string) (text string, pairID, parentID *int64) {
	if !strings.HasPrefix(stored, queueMetaPrefix) {
		return stored, nil, nil
	}
	rest := stored[len(queueMetaPrefix):]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return stored, nil, nil
	}
	meta, body := rest[:nl], rest[nl+1:]
	parts := strings.SplitN(meta, ",", 2)
	if len(parts) != 2 {
		return stored, nil, nil
	}
	if parts[0] != "" {
		if v, err := strconv.ParseInt(parts[0], 10, 64); err == nil {
			pairID = &v
		}
	}
	if parts[1] != "" {
		if v, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			parentID = &v
		}
	}
	return body, pairID, parentID
}

// Enqueue inserts a new pending work item, or resets an existing item for
// the same (source_type, source_id) back to pending with a fresh text and
// attempts reset to 0 — re-ingesting a source always supersedes its
// previous queue entry (spec.md §4.6 "Reindex").
func (d *DB) Enqueue(ctx context.Context, sourceType string, sourceID int64, text string) (*QueueItem, error) {
	now := time.Now()
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO embed_queue (source_type, source_id, text, status, attempts, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT(source_type, source_id) DO UPDATE SET
		   text = excluded.text,
		   status = excluded.status,
		   error_message = NULL,
		   attempts = 0,
		   created_at = excluded.created_at,
		   processed_at = NULL`,
		sourceType, sourceID, text, QueueStatusPending, now.UnixMilli())
	if err != nil {
		return nil, errs.StorageError("enqueue item", err)
	}
	return d.GetQueueItem(ctx, sourceType, sourceID)
}

func (d *DB) GetQueueItem(ctx context.Context, sourceType string, sourceID int64) (*QueueItem, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT id, source_type, source_id, text, status, error_message, attempts, created_at, processed_at
		 FROM embed_queue WHERE source_type = ? AND source_id = ?`, sourceType, sourceID)
	return scanQueueItem(row)
}

// ListPending returns up to limit pending items in FIFO order, for a
// processing batch. limit <= 0 means unbounded.
func (d *DB) ListPending(ctx context.Context, limit int) ([]*QueueItem, error) {
	query := `SELECT id, source_type, source_id, text, status, error_message, attempts, created_at, processed_at
	          FROM embed_queue WHERE status = ? ORDER BY created_at ASC`
	args := []any{QueueStatusPending}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.StorageError("list pending queue items", err)
	}
	defer rows.Close()

	var out []*QueueItem
	for rows.Next() {
		item, err := scanQueueItemRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkSuccess transitions item id to success and stamps processed_at.
func (d *DB) MarkSuccess(ctx context.Context, id int64) error {
	_, err := d.conn.ExecContext(ctx,
		`UPDATE embed_queue SET status = ?, error_message = NULL, processed_at = ? WHERE id = ?`,
		QueueStatusSuccess, time.Now().UnixMilli(), id)
	if err != nil {
		return errs.StorageError("mark queue item success", err)
	}
	return nil
}

// MarkFailed records a failed attempt. If attempts (after incrementing)
// reaches maxRetries, status becomes terminalStatus (>=1); otherwise it
// stays pending so a later ProcessQueue call retries it (spec.md §4.6
// "bounded retries").
func (d *DB) MarkFailed(ctx context.Context, id int64, errMsg string, maxRetries int, terminalStatus int) error {
	var attempts int
	err := d.conn.QueryRowContext(ctx, `SELECT attempts FROM embed_queue WHERE id = ?`, id).Scan(&attempts)
	if err != nil {
		return errs.StorageError("read queue attempts", err)
	}
	attempts++

	status := QueueStatusPending
	var processedAt any
	if attempts >= maxRetries {
		status = QueueStatus(terminalStatus)
		processedAt = time.Now().UnixMilli()
	}

	_, err = d.conn.ExecContext(ctx,
		`UPDATE embed_queue SET status = ?, error_message = ?, attempts = ?, processed_at = ? WHERE id = ?`,
		status, errMsg, attempts, processedAt, id)
	if err != nil {
		return errs.StorageError("mark queue item failed", err)
	}
	return nil
}

// ResetTerminal moves every terminally-failed item for sourceType back to
// pending with attempts reset. Processor.Reindex does not call it: its
// Enqueue upsert already resets each re-enqueued row.
func (d *DB) ResetTerminal(ctx context.Context, sourceType string) (int64, error) {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE embed_queue SET status = ?, error_message = NULL, attempts = 0, processed_at = NULL
		 WHERE source_type = ? AND status >= 1`, QueueStatusPending, sourceType)
	if err != nil {
		return 0, errs.StorageError("reset terminal queue items", err)
	}
	return res.RowsAffected()
}

func scanQueueItem(row *sql.Row) (*QueueItem, error) {
	var q QueueItem
	var errMsg sql.NullString
	var status int
	var createdMs int64
	var processedMs sql.NullInt64
	err := row.Scan(&q.ID, &q.SourceType, &q.SourceID, &q.Text, &status, &errMsg, &q.Attempts, &createdMs, &processedMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StorageError("scan queue item", err)
	}
	q.Status = QueueStatus(status)
	q.ErrorMsg = errMsg.String
	q.CreatedAt = time.UnixMilli(createdMs)
	if processedMs.Valid {
		t := time.UnixMilli(processedMs.Int64)
		q.ProcessedAt = &t
	}
	return &q, nil
}

func scanQueueItemRow(rows *sql.Rows) (*QueueItem, error) {
	var q QueueItem
	var errMsg sql.NullString
	var status int
	var createdMs int64
	var processedMs sql.NullInt64
	if err := rows.Scan(&q.ID, &q.SourceType, &q.SourceID, &q.Text, &status, &errMsg, &q.Attempts, &createdMs, &processedMs); err != nil {
		return nil, errs.StorageError("scan queue item row", err)
	}
	q.Status = QueueStatus(status)
	q.ErrorMsg = errMsg.String
	q.CreatedAt = time.UnixMilli(createdMs)
	if processedMs.Valid {
		t := time.UnixMilli(processedMs.Int64)
		q.ProcessedAt = &t
	}
	return &q, nil
}
