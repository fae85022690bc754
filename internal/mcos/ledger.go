package mcos

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fernbank/mcos/internal/platform/logger"
)

// ReconciliationCache is an optional external collaborator that lets
// UploadLedger skip the expensive cold-start vector-store scan when a
// previously reconciled set of uploaded turn ids is still cached
// elsewhere (see internal/platform/redisledger). A nil cache simply means
// every cold start pays the full reconciliation query.
type ReconciliationCache interface {
	Load(ctx context.Context, chatID string) (map[string]struct{}, bool, error)
	Save(ctx context.Context, chatID string, uploadedTurnIDs map[string]struct{}) error
}

type ledgerStripe struct {
	mu      sync.Mutex
	entries map[string]*LedgerEntry
}

// UploadLedger tracks, per chat, which turns have already been uploaded to
// the vector store, so PersistenceOrchestrator never double-uploads a turn
// and can batch uploads subject to a cooldown.
type UploadLedger struct {
	stripes [stripeCount]*ledgerStripe
	cfg     Config
	log     *logger.Logger
	vector  VectorStore
	cache   ReconciliationCache
}

func NewUploadLedger(cfg Config, log *logger.Logger, vector VectorStore, cache ReconciliationCache) *UploadLedger {
	l := &UploadLedger{cfg: cfg, log: log.With("component", "upload_ledger"), vector: vector, cache: cache}
	for i := range l.stripes {
		l.stripes[i] = &ledgerStripe{entries: make(map[string]*LedgerEntry)}
	}
	return l
}

func (l *UploadLedger) stripeFor(chatID string) *ledgerStripe {
	var h uint32 = 2166136261
	for i := 0; i < len(chatID); i++ {
		h ^= uint32(chatID[i])
		h *= 16777619
	}
	return l.stripes[h%stripeCount]
}

func (l *UploadLedger) entry(chatID string) *LedgerEntry {
	st := l.stripeFor(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[chatID]
	if !ok {
		e = &LedgerEntry{ChatID: chatID, UploadedTurnIDs: make(map[string]struct{})}
		st.entries[chatID] = e
	}
	return e
}

// Unuploaded returns the subset of turnIDs not yet recorded as uploaded for
// this chat. On first access for a chat it reconciles state: it checks the
// ReconciliationCache first, falling back to a one-shot metadata-only query
// against the vector store (topK = cfg.ReconcileTopK) to rebuild
// uploadedTurnIds, matching MCOS's cold-start recovery contract.
func (l *UploadLedger) Unuploaded(ctx context.Context, userID, chatID string, turnIDs []string) ([]string, error) {
	st := l.stripeFor(chatID)
	st.mu.Lock()
	e, ok := st.entries[chatID]
	if !ok {
		e = &LedgerEntry{ChatID: chatID, UploadedTurnIDs: make(map[string]struct{})}
		st.entries[chatID] = e
	}
	st.mu.Unlock()

	if !e.Reconciled {
		if err := l.reconcile(ctx, userID, chatID, e); err != nil {
			return nil, NewError("Unuploaded", KindTransient, err)
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]string, 0, len(turnIDs))
	for _, id := range turnIDs {
		if _, uploaded := e.UploadedTurnIDs[id]; !uploaded {
			out = append(out, id)
		}
	}
	return out, nil
}

func (l *UploadLedger) reconcile(ctx context.Context, userID, chatID string, e *LedgerEntry) error {
	if l.cache != nil {
		if ids, found, err := l.cache.Load(ctx, chatID); err == nil && found {
			st := l.stripeFor(chatID)
			st.mu.Lock()
			e.UploadedTurnIDs = ids
			e.Reconciled = true
			e.LastSyncedAt = time.Now()
			st.mu.Unlock()
			l.log.Debug("reconcile: served from cache", "chatId", chatID)
			return nil
		}
	}

	records, err := l.vector.Query(ctx, ScopedQuery{
		UserID: userID,
		ChatID: chatID,
		Kinds:  []MemoryRecordKind{KindConversation},
		TopK:   l.cfg.ReconcileTopK,
	})
	if err != nil {
		return err
	}

	st := l.stripeFor(chatID)
	st.mu.Lock()
	for _, r := range records {
		// Conversation records are stored as "<turnId>:user" and
		// "<turnId>:assistant"; the ledger tracks the turn id.
		turnID := r.ID
		if i := strings.LastIndex(turnID, ":"); i >= 0 {
			turnID = turnID[:i]
		}
		e.UploadedTurnIDs[turnID] = struct{}{}
	}
	e.Reconciled = true
	e.LastSyncedAt = time.Now()
	st.mu.Unlock()

	if l.cache != nil {
		if err := l.cache.Save(ctx, chatID, e.UploadedTurnIDs); err != nil {
			l.log.Warn("reconcile: failed to populate cache", "chatId", chatID, "error", err)
		}
	}
	l.log.Debug("reconcile: rebuilt from vector store", "chatId", chatID, "count", len(records))
	return nil
}

// MarkUploaded records turnIDs as uploaded and advances LastUploadAt, used
// by PersistenceOrchestrator after a successful vector-store upsert.
func (l *UploadLedger) MarkUploaded(chatID string, turnIDs []string) {
	st := l.stripeFor(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[chatID]
	if !ok {
		e = &LedgerEntry{ChatID: chatID, UploadedTurnIDs: make(map[string]struct{})}
		st.entries[chatID] = e
	}
	for _, id := range turnIDs {
		e.UploadedTurnIDs[id] = struct{}{}
	}
	e.LastUploadAt = time.Now()
}

// CooldownElapsed reports whether UploadCooldown has passed since the last
// upload for this chat, gating how often PersistenceOrchestrator batches
// uploads.
func (l *UploadLedger) CooldownElapsed(chatID string, now time.Time) bool {
	st := l.stripeFor(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[chatID]
	if !ok || e.LastUploadAt.IsZero() {
		return true
	}
	return now.Sub(e.LastUploadAt) >= l.cfg.UploadCooldown
}

// CooldownRemaining returns how long until CooldownElapsed would return true
// for this chat, or 0 if it already has. Used by the vector-upload job
// handler to self-reschedule rather than relying solely on a one-time
// pre-check at enqueue time.
func (l *UploadLedger) CooldownRemaining(chatID string, now time.Time) time.Duration {
	st := l.stripeFor(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[chatID]
	if !ok || e.LastUploadAt.IsZero() {
		return 0
	}
	remaining := l.cfg.UploadCooldown - now.Sub(e.LastUploadAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Forget drops all ledger state for a chat, called when a chat is
// permanently deleted.
func (l *UploadLedger) Forget(chatID string) {
	st := l.stripeFor(chatID)
	st.mu.Lock()
	delete(st.entries, chatID)
	st.mu.Unlock()
}
