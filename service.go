// Package memo is an embeddable semantic-search engine. A Service binds a
// data directory, an embedding provider, and an optional text database, and
// exposes indexing, search, deletion, and reindexing over content-addressed
// chunks (spec.md §2, §4.7).
package memo

import (
	"context"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/trans/memo/internal/chunk"
	"github.com/trans/memo/internal/config"
	"github.com/trans/memo/internal/errs"
	"github.com/trans/memo/internal/projection"
	"github.com/trans/memo/internal/provider"
	"github.com/trans/memo/internal/queue"
	"github.com/trans/memo/internal/search"
	"github.com/trans/memo/internal/store"
	"github.com/trans/memo/internal/textindex"
)

// defaultTextAlias is the schema alias text.db is attached under
// (spec.md §6).
const defaultTextAlias = "text_store"

// Service is the bound semantic-search engine for one embedding service's
// vector space. The zero value is not usable; construct with Open.
type Service struct {
	params config.Params

	db        *store.DB
	svc       *store.Service
	basis     [projection.K][]float64
	prov      provider.Provider
	processor *queue.Processor
	textIdx   textindex.TextIndex

	storeText bool

	mu     sync.Mutex
	closed bool
}

// Open binds a Service per spec.md §4.7: it opens/creates the data
// directory, initializes embeddings.db, optionally attaches text.db and any
// caller-specified auxiliary databases, binds an embedding service, and
// ensures that service's projection vectors exist.
//
// Every exit path that fails after opening the database releases it, so a
// caller never leaks a connection on a failed Open.
func Open(ctx context.Context, params config.Params) (svc *Service, err error) {
	params = params.Defaults()

	db, err := store.Open(params.DataDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()

	// The file lock only protects instance-open initialization — schema
	// creation and, on first bind, projection-vector generation — against a
	// second process racing the same fresh data directory. It is released
	// before returning; SQLite's own locking arbitrates writes thereafter
	// (spec.md's Non-goals: no extra cross-process write concurrency).
	fileLock := flock.New(filepath.Join(params.DataDir, ".memo.lock"))
	if lockErr := fileLock.Lock(); lockErr != nil {
		return nil, errs.StorageError("acquire service lock", lockErr)
	}
	defer func() { _ = fileLock.Unlock() }()

	if params.StoreText {
		textPath := filepath.Join(params.DataDir, "text.db")
		if attachErr := db.AttachText(ctx, textPath, defaultTextAlias); attachErr != nil {
			return nil, attachErr
		}
	}

	for alias, path := range params.Attach {
		if attachErr := db.Attach(ctx, alias, path); attachErr != nil {
			return nil, attachErr
		}
	}

	storeSvc, err := bindService(ctx, db, params)
	if err != nil {
		return nil, err
	}

	if verr := params.Validate(storeSvc.MaxTokens); verr != nil {
		return nil, verr
	}

	basis, err := ensureProjectionVectors(ctx, db, storeSvc)
	if err != nil {
		return nil, err
	}

	prov, err := provider.New(provider.Config{
		Format:     storeSvc.Format,
		BaseURL:    storeSvc.BaseURL,
		APIKey:     params.APIKey,
		Model:      storeSvc.Model,
		Dimensions: storeSvc.Dimensions,
		MaxTokens:  storeSvc.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	retryingProv := provider.NewRetryingProvider(prov, provider.DefaultRetryConfig())
	cachedProv := provider.NewCachedProvider(retryingProv, provider.DefaultCacheSize)

	var textIdx textindex.TextIndex
	if params.StoreText {
		textIdx, err = textindex.New(params.TextBackend, textindex.Config{
			Conn:  db.Conn(),
			Alias: defaultTextAlias,
			Path:  filepath.Join(params.DataDir, "bleve"),
		})
		if err != nil {
			return nil, err
		}
	}

	processor := queue.NewProcessor(db, cachedProv, storeSvc.ID, basis, params.BatchSize, params.MaxRetries, params.StoreText, defaultTextAlias)
	processor.SetChunkOptions(chunk.Options{
		MinTokens:        chunk.DefaultOptions().MinTokens,
		MaxTokens:        params.ChunkingMaxTokens,
		NoChunkThreshold: chunk.DefaultOptions().NoChunkThreshold,
	})
	if params.TextBackend == textindex.BackendBleve {
		processor.SetTextIndex(textIdx)
	}

	return &Service{
		params: params, db: db, svc: storeSvc, basis: basis,
		prov: cachedProv, processor: processor, textIdx: textIdx,
		storeText: params.StoreText,
	}, nil
}

// bindService looks up params.Service by name, or registers one synthesized
// from the inline format/model/dimensions/max_tokens parameters.
func bindService(ctx context.Context, db *store.DB, params config.Params) (*store.Service, error) {
	if params.Service != "" {
		svc, err := db.GetServiceByName(ctx, params.Service)
		if err != nil {
			return nil, errs.New(errs.CodeUnknownService, "service "+params.Service+" is not registered", err)
		}
		return svc, nil
	}
	if params.Format == "" {
		return nil, errs.New(errs.CodeUnknownFormat, "either service or format must be specified", nil)
	}
	return db.RegisterService(ctx, params.Service, params.Format, params.BaseURL, params.Model, params.Dimensions, params.MaxTokens)
}

// ensureProjectionVectors loads a service's persisted basis vectors, or
// generates and persists them on first use (spec.md §3 "ProjectionVectors").
func ensureProjectionVectors(ctx context.Context, db *store.DB, svc *store.Service) ([projection.K][]float64, error) {
	existing, err := db.GetProjectionVectors(ctx, svc.ID)
	if err != nil {
		return [projection.K][]float64{}, err
	}
	if existing[0] != nil {
		return projection.BasisFromStore(existing), nil
	}

	rnd := rand.New(rand.NewSource(svc.ID))
	basis := projection.GenerateOrthonormal(svc.Dimensions, rnd)
	if err := db.SaveProjectionVectors(ctx, svc.ID, projection.BasisToStore(basis)); err != nil {
		return [projection.K][]float64{}, err
	}
	return basis, nil
}

// Info returns the bound embedding service's record.
func (s *Service) Info() *store.Service {
	return s.svc
}

// Index chunks text, embeds each piece, and stores it under
// (sourceType, sourceID) — enqueue followed by synchronous processing
// (spec.md §4.6 "index() is defined as enqueue; process_queue_item").
func (s *Service) Index(ctx context.Context, sourceType string, sourceID int64, text string, pairID, parentID *int64) error {
	return s.processor.Index(ctx, sourceType, sourceID, text, pairID, parentID)
}

// ProcessQueue drains all pending work synchronously until the queue is
// empty.
func (s *Service) ProcessQueue(ctx context.Context) error {
	return s.processor.ProcessQueue(ctx)
}

// ProcessAsync starts queue processing in the background and returns
// immediately; Close drains any in-flight run.
func (s *Service) ProcessAsync(ctx context.Context) {
	s.processor.ProcessAsync(ctx)
}

// Reindex deletes and re-enqueues every chunk currently indexed under
// sourceType, using stored text or lookup when text storage is disabled.
func (s *Service) Reindex(ctx context.Context, sourceType string, lookup queue.TextLookup) (int, error) {
	return s.processor.Reindex(ctx, sourceType, lookup)
}

// SearchParams mirrors spec.md §6's "Search parameters" table.
type SearchParams struct {
	Query      string
	Limit      int
	MinScore   float64
	SourceType *string
	SourceID   *int64
	PairID     *int64
	ParentID   *int64

	Like        []string
	Match       string
	SQLWhere    string
	IncludeText bool

	ProjectionThreshold float64
}

// Search embeds the query and runs the composed top-k scan (spec.md §4.5).
func (s *Service) Search(ctx context.Context, p SearchParams) ([]search.Result, error) {
	vec, _, err := s.prov.EmbedText(ctx, p.Query)
	if err != nil {
		return nil, err
	}

	minScore := p.MinScore
	threshold := p.ProjectionThreshold
	if threshold == 0 {
		threshold = projection.DefaultThreshold
	}
	limit := p.Limit
	if limit == 0 {
		limit = 10
	}

	textSchema := ""
	if s.storeText {
		textSchema = defaultTextAlias
	}

	q := search.Query{
		QueryVector:         vec,
		ServiceID:           s.svc.ID,
		Limit:               limit,
		MinScore:            minScore,
		SourceType:          p.SourceType,
		SourceID:            p.SourceID,
		PairID:              p.PairID,
		ParentID:            p.ParentID,
		SQLWhere:            p.SQLWhere,
		ProjectionBasis:     &s.basis,
		ProjectionThreshold: threshold,
		Like:                p.Like,
		TextSchema:          textSchema,
		IncludeText:         p.IncludeText && s.storeText,
	}

	// The Bleve backend resolves match queries out of its own index rather
	// than the fts5 SQL join, which it is not compatible with (spec.md §9).
	if p.Match != "" {
		if s.textIdx != nil && s.params.TextBackend == textindex.BackendBleve {
			hashes, err := s.textIdx.Match(ctx, p.Match, limit*10)
			if err != nil {
				return nil, err
			}
			if len(hashes) == 0 {
				// A zero-hit match must behave like the fts5 path's
				// "fts MATCH ?" matching no rows: an empty result set, not
				// "no match filter" falling back to unrestricted cosine
				// ranking.
				return []search.Result{}, nil
			}
			q.MatchHashes = hashes
		} else {
			q.Match = p.Match
		}
	}

	results, err := search.Execute(ctx, s.db.Conn(), q)
	if err != nil {
		if results == nil {
			return nil, err
		}
		// search.Execute only returns results alongside an error when the
		// final best-effort match_count update failed (spec.md §5); the
		// results themselves are already valid.
		slog.Error("match_count increment failed after search", "error", err)
	}
	return results, nil
}

// Delete removes every chunk for sourceID (optionally scoped to
// sourceType), garbage-collecting embeddings/projections whose reference
// count drops to zero, and returns the number of chunks deleted
// (spec.md §4.7).
func (s *Service) Delete(ctx context.Context, sourceID int64, sourceType string) (int, error) {
	return s.processor.Delete(ctx, sourceID, sourceType)
}

// Stats returns counts scoped to the bound service.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.db.Stats(ctx, s.svc.ID)
}

// MarkAsRead increments read_count for the given chunk ids.
func (s *Service) MarkAsRead(ctx context.Context, chunkIDs []int64) error {
	return s.db.IncrementReadCount(ctx, chunkIDs)
}

// --- services CRUD facade ---

func (s *Service) RegisterService(ctx context.Context, name, format, baseURL, model string, dimensions, maxTokens int) (*store.Service, error) {
	return s.db.RegisterService(ctx, name, format, baseURL, model, dimensions, maxTokens)
}

func (s *Service) ListServices(ctx context.Context) ([]*store.Service, error) {
	return s.db.ListServices(ctx)
}

func (s *Service) DeleteService(ctx context.Context, id int64, force bool) error {
	return s.db.DeleteService(ctx, id, force)
}

// Close releases the database connection if this Service opened it, and
// drains any in-flight background queue processing. Safe to call multiple
// times.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.processor.Close()
	if s.textIdx != nil {
		_ = s.textIdx.Close()
	}
	return s.db.Close()
}
