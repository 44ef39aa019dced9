package store

// CurrentSchemaVersion is the schema version that embeddingsSchema writes to
// schema_version on first init. Nothing reads it back on reopen.
const CurrentSchemaVersion = 1

// embeddingsSchema creates every table that lives in embeddings.db. It is
// idempotent: every statement uses IF NOT EXISTS, matching the teacher's
// SQLiteBM25Index.initSchema convention of a single multi-statement Exec.
const embeddingsSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);
INSERT OR IGNORE INTO schema_version (version) VALUES (1);

CREATE TABLE IF NOT EXISTS services (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	format TEXT NOT NULL,
	base_url TEXT,
	model TEXT NOT NULL,
	dimensions INTEGER NOT NULL,
	max_tokens INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
	hash BLOB PRIMARY KEY,
	embedding BLOB NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	service_id INTEGER NOT NULL REFERENCES services(id),
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_service ON embeddings(service_id);

CREATE TABLE IF NOT EXISTS projection_vectors (
	service_id INTEGER PRIMARY KEY REFERENCES services(id),
	vec_0 BLOB NOT NULL, vec_1 BLOB NOT NULL, vec_2 BLOB NOT NULL, vec_3 BLOB NOT NULL,
	vec_4 BLOB NOT NULL, vec_5 BLOB NOT NULL, vec_6 BLOB NOT NULL, vec_7 BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS projections (
	hash BLOB PRIMARY KEY REFERENCES embeddings(hash),
	proj_0 REAL NOT NULL, proj_1 REAL NOT NULL, proj_2 REAL NOT NULL, proj_3 REAL NOT NULL,
	proj_4 REAL NOT NULL, proj_5 REAL NOT NULL, proj_6 REAL NOT NULL, proj_7 REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hash BLOB NOT NULL REFERENCES embeddings(hash),
	source_type TEXT NOT NULL,
	source_id INTEGER NOT NULL,
	pair_id INTEGER,
	parent_id INTEGER,
	offset INTEGER,
	size INTEGER NOT NULL,
	match_count INTEGER NOT NULL DEFAULT 0,
	read_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE(source_type, source_id, offset)
);
CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(hash);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_type, source_id);
CREATE INDEX IF NOT EXISTS idx_chunks_pair ON chunks(pair_id);
CREATE INDEX IF NOT EXISTS idx_chunks_parent ON chunks(parent_id);

CREATE TABLE IF NOT EXISTS embed_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_type TEXT NOT NULL,
	source_id INTEGER NOT NULL,
	text TEXT NOT NULL,
	status INTEGER NOT NULL DEFAULT -1,
	error_message TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	processed_at INTEGER,
	UNIQUE(source_type, source_id)
);
CREATE INDEX IF NOT EXISTS idx_queue_pending ON embed_queue(created_at) WHERE status = -1;
CREATE INDEX IF NOT EXISTS idx_queue_failed ON embed_queue(source_type, source_id) WHERE status >= 1;
`

// textSchema creates the tables living in text.db (attached under the
// configured schema alias). texts_fts is a standalone FTS5 table holding its
// own copy of each content row; there are no triggers, and StoreText writes
// both tables explicitly.
const textSchema = `
CREATE TABLE IF NOT EXISTS texts (
	hash BLOB PRIMARY KEY,
	content TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS texts_fts USING fts5(
	hash UNINDEXED,
	content,
	tokenize='unicode61'
);
`

// pragmas applied to every opened connection (embeddings.db and text.db).
// WAL mode + busy_timeout mirror sqlite_bm25.go's concurrency posture: a
// single writer, with readers not blocked by a long-running write.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
}
