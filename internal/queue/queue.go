// Package queue drives ingestion: enqueueing chunked text, processing the
// durable work queue with bounded retries, and background "start and
// forget" processing to natural completion (spec.md §4.6).
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/trans/memo/internal/chunk"
	"github.com/trans/memo/internal/errs"
	"github.com/trans/memo/internal/projection"
	"github.com/trans/memo/internal/provider"
	"github.com/trans/memo/internal/store"
	"github.com/trans/memo/internal/textindex"
)

// embedConcurrency bounds how many queue items embed concurrently within
// one ProcessQueue batch. The provider round trip is network-bound and
// safe to parallelize; the database connection pool (store.Open sets
// SetMaxOpenConns(1)) already serializes the write half of embedAndStore,
// so this only shortens wall-clock time spent waiting on the provider
// (spec.md §5 "writes ... must serialize on the embedded engine's write
// lock" — reads/provider calls are not writes).
const embedConcurrency = 4

// DefaultBatchSize and DefaultMaxRetries mirror the Service bind defaults
// from spec.md §6.
const (
	DefaultBatchSize  = 100
	DefaultMaxRetries = 3

	// terminalStatus is the QueueStatus value written once attempts reach
	// MaxRetries; its numeric value carries no meaning beyond "not pending,
	// not success" (spec.md §3).
	terminalStatus = 1
)

// Processor runs embed_and_store for queued items against one service's
// vector space. It holds no goroutines of its own until ProcessAsync is
// called.
type Processor struct {
	db         *store.DB
	provider   provider.Provider
	serviceID  int64
	basis      [projection.K][]float64
	batchSize  int
	maxRetries int
	storeText  bool
	textAlias  string
	chunkOpts  chunk.Options
	textIndex  textindex.TextIndex

	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewProcessor constructs a Processor bound to one embedding service's
// vector space. basis is that service's projection vectors, already loaded
// or generated by the Service facade.
func NewProcessor(db *store.DB, p provider.Provider, serviceID int64, basis [projection.K][]float64, batchSize, maxRetries int, storeText bool, textAlias string) *Processor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Processor{
		db: db, provider: p, serviceID: serviceID, basis: basis,
		batchSize: batchSize, maxRetries: maxRetries, storeText: storeText, textAlias: textAlias,
		chunkOpts: chunk.DefaultOptions(),
	}
}

// SetTextIndex attaches a secondary full-text index (e.g. the legacy Bleve
// backend) that embedAndStore keeps in sync alongside the SQL text store.
// A nil index (the default) means only the fts5 virtual table is used.
func (pr *Processor) SetTextIndex(idx textindex.TextIndex) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.textIndex = idx
}

// Enqueue upserts a pending work item for (sourceType, sourceID), packing
// pairID/parentID into the queue text per the MEMO_META prefix convention.
func (pr *Processor) Enqueue(ctx context.Context, sourceType string, sourceID int64, text string, pairID, parentID *int64) (*store.QueueItem, error) {
	return pr.db.Enqueue(ctx, sourceType, sourceID, store.EncodeQueueText(text, pairID, parentID))
}

// Index is enqueue followed by a synchronous ProcessQueueItem, matching
// spec.md §4.6's "index() is defined as enqueue; process_queue_item".
func (pr *Processor) Index(ctx context.Context, sourceType string, sourceID int64, text string, pairID, parentID *int64) error {
	if _, err := pr.Enqueue(ctx, sourceType, sourceID, text, pairID, parentID); err != nil {
		return err
	}
	return pr.ProcessQueueItem(ctx, sourceType, sourceID)
}

// ProcessQueueItem processes exactly one item synchronously, retrying up to
// maxRetries within this call and raising a fatal error if it still fails —
// the caller-visible failure surface promised by spec.md §4.6.
func (pr *Processor) ProcessQueueItem(ctx context.Context, sourceType string, sourceID int64) error {
	item, err := pr.db.GetQueueItem(ctx, sourceType, sourceID)
	if err != nil {
		return err
	}
	if item == nil {
		return errs.New(errs.CodeStorageIO, "queue item not found after enqueue", nil)
	}
	if item.Status == store.QueueStatusSuccess {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < pr.maxRetries; attempt++ {
		if err := pr.embedAndStore(ctx, item); err != nil {
			lastErr = err
			_ = pr.db.MarkFailed(ctx, item.ID, err.Error(), pr.maxRetries, terminalStatus)
			continue
		}
		return pr.db.MarkSuccess(ctx, item.ID)
	}

	return errs.New(errs.CodeQueueTerminal,
		fmt.Sprintf("queue item %s/%d failed after %d attempts: %v", sourceType, sourceID, pr.maxRetries, lastErr), lastErr)
}

// ProcessQueue drains all pending items for this service in created_at
// order, batch_size rows at a time, until a select returns empty. Within a
// batch, embedAndStore runs concurrently across items (bounded by
// embedConcurrency); the result is applied to the queue row sequentially so
// status transitions stay ordered and a single slow item cannot stall the
// rest of the batch behind it.
func (pr *Processor) ProcessQueue(ctx context.Context) error {
	for {
		items, err := pr.db.ListPending(ctx, pr.batchSize)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		results := make([]error, len(items))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(embedConcurrency)
		for i, item := range items {
			i, item := i, item
			g.Go(func() error {
				results[i] = pr.embedAndStore(gctx, item)
				return nil
			})
		}
		_ = g.Wait()

		for i, item := range items {
			if err := results[i]; err != nil {
				slog.Warn("embed_and_store failed", "source_type", item.SourceType, "source_id", item.SourceID, "error", err)
				if markErr := pr.db.MarkFailed(ctx, item.ID, err.Error(), pr.maxRetries, terminalStatus); markErr != nil {
					return markErr
				}
				continue
			}
			if err := pr.db.MarkSuccess(ctx, item.ID); err != nil {
				return err
			}
		}
	}
}

// ProcessAsync starts ProcessQueue in the background and returns
// immediately. The task runs to natural completion (queue empty); there is
// no external cancellation signal, matching spec.md §4.6 and §9's
// "coroutines for background processing" note. Close must be called to
// drain any in-flight run before the Service shuts down.
func (pr *Processor) ProcessAsync(ctx context.Context) {
	pr.wg.Add(1)
	go func() {
		defer pr.wg.Done()
		if err := pr.ProcessQueue(ctx); err != nil {
			slog.Error("background queue processing failed", "error", err)
		}
	}()
}

// Close blocks until any outstanding async run drains to natural
// completion. It never cancels the run's context: an in-flight HTTP call or
// write transaction must finish on its own, per spec.md §4.6/§9 ("there is
// no external cancellation; in-flight transactions complete"). Safe to call
// multiple times.
func (pr *Processor) Close() {
	pr.stopOnce.Do(func() {
		pr.wg.Wait()
	})
}
