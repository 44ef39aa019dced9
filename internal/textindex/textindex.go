// Package textindex provides the full-text search backend behind the
// `match` search filter (spec.md §4.5, §6 "text.db"). The default backend
// queries the SQLite FTS5 virtual table that already lives in the attached
// text database; a legacy Bleve v2 backend is offered as an alternative for
// deployments that already maintain a Bleve index outside this database,
// mirroring the teacher's own sqlite/bleve backend switch for BM25.
package textindex

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trans/memo/internal/store"
)

// Backend names accepted by New.
const (
	BackendFTS5  = "fts5"
	BackendBleve = "bleve"
)

// TextIndex indexes and queries full-text content keyed by content hash.
// Implementations need not support incremental delete beyond what Close
// discards; orphaned entries are harmless since a lookup miss is treated as
// absent text.
type TextIndex interface {
	// Match returns hashes of content matching query, most relevant first,
	// bounded to limit.
	Match(ctx context.Context, query string, limit int) ([][store.HashSize]byte, error)

	// Index records content under hash. The fts5 backend no-ops here: the
	// texts_fts virtual table is already kept in sync by store.StoreText.
	Index(ctx context.Context, hash [store.HashSize]byte, content string) error

	// Delete removes any indexed content for the given hashes. The fts5
	// backend no-ops: orphaned fts rows are harmless, see store.StoreText.
	Delete(docHashes [][store.HashSize]byte) error

	Close() error
}

// Config carries the construction parameters for either backend.
type Config struct {
	// Conn and Alias are used by the fts5 backend to query the attached
	// text database directly.
	Conn  *sql.DB
	Alias string

	// Path is the Bleve index directory, used only by the bleve backend.
	Path string
}

// New constructs a TextIndex for the given backend name. Empty defaults to
// BackendFTS5, the spec-mandated default.
func New(backend string, cfg Config) (TextIndex, error) {
	switch backend {
	case BackendFTS5, "":
		return newFTS5Index(cfg.Conn, cfg.Alias), nil
	case BackendBleve:
		return newBleveIndex(cfg.Path)
	default:
		return nil, fmt.Errorf("textindex: unknown backend %q (valid: fts5, bleve)", backend)
	}
}
