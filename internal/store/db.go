package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	"github.com/trans/memo/internal/errs"
)

// DB wraps the embeddings.db connection plus any databases attached to it
// (the text database under its configured alias, and caller-specified
// auxiliary databases used by sql_where predicates).
//
// DB is the only shared mutable resource in the package (spec.md §5):
// whoever opens it owns it, and every exit path from construction that
// fails releases it.
type DB struct {
	mu       sync.RWMutex
	conn     *sql.DB
	path     string
	textPath string
	owned    bool // false when the connection was handed in via OpenWithConn
	closed   bool
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting CRUD helpers run
// either standalone or inside a caller-managed transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates or opens embeddings.db at dataDir/embeddings.db, applies the
// WAL pragmas, and runs idempotent schema creation.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errs.StorageError("create data directory", err)
	}

	path := filepath.Join(dataDir, "embeddings.db")
	dsn := path + "?_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.StorageError("open embeddings.db", err)
	}

	// Single writer: SQLite serializes writes itself; a bigger pool only
	// adds contention, matching the teacher's SQLiteBM25Index posture.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, errs.StorageError(fmt.Sprintf("apply pragma %q", p), err)
		}
	}

	if _, err := conn.Exec(embeddingsSchema); err != nil {
		_ = conn.Close()
		return nil, errs.StorageError("init embeddings schema", err)
	}

	return &DB{conn: conn, path: path, owned: true}, nil
}

// OpenWithConn wraps a caller-owned *sql.DB instead of opening a file.
// The caller retains ownership; Close becomes a no-op (spec.md §3 "Ownership").
func OpenWithConn(conn *sql.DB) (*DB, error) {
	if _, err := conn.Exec(embeddingsSchema); err != nil {
		return nil, errs.StorageError("init embeddings schema", err)
	}
	return &DB{conn: conn, owned: false}, nil
}

// AttachText attaches text.db under alias and ensures its schema exists.
// textPath is used as given; the Service facade passes the sibling
// <data_dir>/text.db.
func (d *DB) AttachText(ctx context.Context, textPath, alias string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(textPath), 0o755); err != nil {
		return errs.StorageError("create text data directory", err)
	}

	stmt := fmt.Sprintf("ATTACH DATABASE %s AS %s", quoteLiteral(textPath), quoteIdent(alias))
	if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
		return errs.StorageError("attach text database", err)
	}
	d.textPath = textPath

	aliasedSchema := withSchemaAlias(textSchema, alias)
	if _, err := d.conn.ExecContext(ctx, aliasedSchema); err != nil {
		return errs.StorageError("init text schema", err)
	}
	return nil
}

// Attach mounts an arbitrary application database under alias, for use by
// sql_where predicates that join against application-side tables.
func (d *DB) Attach(ctx context.Context, alias, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stmt := fmt.Sprintf("ATTACH DATABASE %s AS %s", quoteLiteral(path), quoteIdent(alias))
	_, err := d.conn.ExecContext(ctx, stmt)
	if err != nil {
		return errs.StorageError(fmt.Sprintf("attach database %q as %q", path, alias), err)
	}
	return nil
}

// Conn exposes the underlying connection for the search executor, which
// needs to build ad hoc scanning queries across attached schemas.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// BeginTx starts a transaction used by index()/delete()/reindex() to make
// their multi-table writes atomic.
func (d *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.conn.BeginTx(ctx, nil)
}

// Close releases the connection if this DB owns it (i.e. it was produced by
// Open, not OpenWithConn).
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || !d.owned {
		d.closed = true
		return nil
	}
	d.closed = true
	return d.conn.Close()
}

// quoteIdent and quoteLiteral are minimal SQLite quoting helpers for the
// ATTACH statements above, whose alias/path are not user-facing query input
// but configuration values supplied at Service construction.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// withSchemaAlias rewrites the bare table/virtual-table names in textSchema
// to be alias-qualified, since SQLite requires the schema prefix on DDL
// statements targeting an attached database.
func withSchemaAlias(schema, alias string) string {
	s := strings.Replace(schema, "TABLE IF NOT EXISTS texts", "TABLE IF NOT EXISTS "+alias+".texts", 1)
	s = strings.Replace(s, "VIRTUAL TABLE IF NOT EXISTS texts_fts", "VIRTUAL TABLE IF NOT EXISTS "+alias+".texts_fts", 1)
	return s
}
