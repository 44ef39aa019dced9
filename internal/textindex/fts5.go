package textindex

import (
	"context"
	"database/sql"

	"github.com/trans/memo/internal/errs"
	"github.com/trans/memo/internal/store"
)

// fts5Index queries the texts_fts virtual table already maintained in the
// attached text database by the storage layer (store.StoreText). It holds
// no state of its own beyond the connection and schema alias.
type fts5Index struct {
	conn  *sql.DB
	alias string
}

func newFTS5Index(conn *sql.DB, alias string) *fts5Index {
	return &fts5Index{conn: conn, alias: alias}
}

func (f *fts5Index) Match(ctx context.Context, query string, limit int) ([][store.HashSize]byte, error) {
	rows, err := f.conn.QueryContext(ctx,
		`SELECT hash FROM `+quoteIdent(f.alias)+`.texts_fts WHERE texts_fts MATCH ? ORDER BY rank LIMIT ?`,
		query, limit)
	if err != nil {
		return nil, errs.StorageError("fts5 match query", err)
	}
	defer rows.Close()

	var out [][store.HashSize]byte
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, errs.StorageError("scan fts5 match row", err)
		}
		var h [store.HashSize]byte
		copy(h[:], blob)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Index is a no-op: texts_fts is kept in sync by store.StoreText directly.
func (f *fts5Index) Index(ctx context.Context, hash [store.HashSize]byte, content string) error {
	return nil
}

// Delete is a no-op: orphaned fts rows are harmless, see store.StoreText.
func (f *fts5Index) Delete(docHashes [][store.HashSize]byte) error { return nil }

func (f *fts5Index) Close() error { return nil }

func quoteIdent(s string) string {
	return `"` + s + `"`
}
