package mcos

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fernbank/mcos/internal/platform/logger"
)

// VectorMemory is the long-term memory tier: it embeds and upserts
// conversation/summary/profile records into a VectorStore and retrieves
// the most relevant records for a query, all within a tenant-isolated
// scope (userId, and optionally chatId).
type VectorMemory struct {
	cfg     Config
	log     *logger.Logger
	store   VectorStore
	model   ModelAdapter
	metrics *Metrics
	embedSem *semaphore.Weighted
}

func NewVectorMemory(cfg Config, log *logger.Logger, store VectorStore, model ModelAdapter, metrics *Metrics) *VectorMemory {
	n := int64(cfg.EmbedConcurrency)
	if n <= 0 {
		n = 1
	}
	return &VectorMemory{
		cfg:      cfg,
		log:      log.With("component", "vector_memory"),
		store:    store,
		model:    model,
		metrics:  metrics,
		embedSem: semaphore.NewWeighted(n),
	}
}

// Upsert embeds and stores records, chunking into batches of at most 100
// and bounding concurrent embedding calls to EMBED_CONCURRENCY.
func (v *VectorMemory) Upsert(ctx context.Context, records []MemoryRecord) error {
	const batchSize = 100
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := v.upsertBatch(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (v *VectorMemory) upsertBatch(ctx context.Context, batch []MemoryRecord) error {
	if err := v.embedSem.Acquire(ctx, 1); err != nil {
		return NewError("Upsert", KindTransient, err)
	}
	defer v.embedSem.Release(1)

	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.Text
	}

	var embeddings [][]float32
	err := v.withRetry(ctx, "embed", func() error {
		var embErr error
		embeddings, embErr = v.model.Embed(ctx, texts)
		return embErr
	})
	if err != nil {
		return err
	}
	for i := range batch {
		if i < len(embeddings) {
			batch[i].Embedding = embeddings[i]
		}
	}

	return v.withRetry(ctx, "upsert", func() error {
		return v.store.Upsert(ctx, batch)
	})
}

// Query embeds q's query text (unless a vector was already supplied) and
// retrieves the top matching records for the scoped query, applying the
// kind/seq/id tie-break comparator to any equally-scored results so
// ordering is deterministic.
func (v *VectorMemory) Query(ctx context.Context, q ScopedQuery) ([]MemoryRecord, error) {
	if len(q.Vector) == 0 && q.QueryText != "" {
		var embeddings [][]float32
		err := v.withRetry(ctx, "embed_query", func() error {
			var embErr error
			embeddings, embErr = v.model.Embed(ctx, []string{q.QueryText})
			return embErr
		})
		if err != nil {
			return nil, err
		}
		if len(embeddings) > 0 {
			q.Vector = embeddings[0]
		}
	}

	var results []MemoryRecord
	err := v.withRetry(ctx, "query", func() error {
		var qErr error
		results, qErr = v.store.Query(ctx, q)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ri, rj := results[i].Kind.rank(), results[j].Kind.rank()
		if ri != rj {
			return ri < rj
		}
		if results[i].Seq != results[j].Seq {
			return results[i].Seq > results[j].Seq
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// DeleteByScope removes every record matching scope — a whole user, one
// chat, or one record kind within a user — used when a chat or an entire
// account is permanently deleted.
func (v *VectorMemory) DeleteByScope(ctx context.Context, scope DeleteScope) error {
	return v.withRetry(ctx, "delete_by_scope", func() error {
		return v.store.DeleteByScope(ctx, scope)
	})
}

// withRetry applies the specification's exponential backoff schedule
// (base 500ms, factor 2, cap 4s, max 5 attempts) to VectorStore operations,
// retrying only Transient-classified failures, and records per-operation
// latency/status into Metrics regardless of outcome.
func (v *VectorMemory) withRetry(ctx context.Context, op string, fn func() error) error {
	base := v.cfg.VectorRetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	delayCap := v.cfg.VectorRetryCap
	if delayCap <= 0 {
		delayCap = 4 * time.Second
	}
	maxAttempts := v.cfg.VectorRetryMaxAttempt
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	delay := base
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		err := fn()
		dur := time.Since(start)

		if err == nil {
			v.metrics.ObserveVectorOp(ctx, op, "ok", dur)
			return nil
		}
		lastErr = err

		if !Is(err, KindTransient) {
			v.metrics.ObserveVectorOp(ctx, op, "error", dur)
			return NewError(op, KindTerminal, err)
		}
		v.metrics.ObserveVectorOp(ctx, op, "retry", dur)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return NewError(op, KindTransient, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > delayCap {
			delay = delayCap
		}
	}
	return NewError(op, KindTerminal, lastErr)
}
