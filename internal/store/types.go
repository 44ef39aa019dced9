// Package store implements the two-database storage layer: hash computation,
// vector (de)serialization, and CRUD for services, embeddings, chunks,
// projections and the durable work queue. It is the persistence layer
// described by spec.md §3 and §4.1.
package store

import "time"

// ProjectionK is the fixed number of random-projection basis vectors (spec.md §4.3).
const ProjectionK = 8

// QueueStatus is the state of a QueueItem.
type QueueStatus int

const (
	// QueueStatusPending indicates work not yet successfully processed.
	QueueStatusPending QueueStatus = -1
	// QueueStatusSuccess indicates the item embedded and stored cleanly.
	QueueStatusSuccess QueueStatus = 0
	// Any QueueStatus >= 1 is a terminal failure status; the numeric value
	// itself carries no meaning beyond "not pending, not success".
)

// Service is a named (format, model, dimensions, max_tokens) embedding
// space. Embeddings are comparable only within one Service.
type Service struct {
	ID         int64
	Name       string
	Format     string
	BaseURL    string
	Model      string
	Dimensions int
	MaxTokens  int
	CreatedAt  time.Time
}

// Embedding is the stored vector for a content hash, owned by exactly one
// Service.
type Embedding struct {
	Hash       [HashSize]byte
	Vector     []float32
	TokenCount int
	ServiceID  int64
	CreatedAt  time.Time
}

// Projection is the K=8 dimensional image of an embedding under its
// service's projection vectors.
type Projection struct {
	Hash  [HashSize]byte
	Proj  [ProjectionK]float64
}

// Chunk is a (source_type, source_id, offset) reference to a content hash.
// Multiple chunks may reference the same hash (content deduplication).
type Chunk struct {
	ID         int64
	Hash       [HashSize]byte
	SourceType string
	SourceID   int64
	PairID     *int64
	ParentID   *int64
	Offset     *int
	Size       int
	MatchCount int
	ReadCount  int
	CreatedAt  time.Time
}

// QueueItem is a pending or completed unit of ingestion work.
type QueueItem struct {
	ID          int64
	SourceType  string
	SourceID    int64
	Text        string
	Status      QueueStatus
	ErrorMsg    string
	Attempts    int
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Stats is the per-service summary returned by Service.Stats().
type Stats struct {
	Embeddings int
	Chunks     int
	Sources    int
}
