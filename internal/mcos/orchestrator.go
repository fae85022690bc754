package mcos

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fernbank/mcos/internal/platform/logger"
)

// ArtifactUpload is a large payload (an image, an export, an attachment)
// submitted alongside a turn. RecordTurn hands each one to ObjectStore and
// turns it into an Artifact pointer before the turn is appended to C1.
type ArtifactUpload struct {
	Kind        string
	Data        []byte
	ContentType string
}

// PersistenceOrchestrator coordinates background summarization, long-term
// vector uploads, and profile extraction for each turn, using the bounded
// in-process Queue (C6) and the per-chat job mutex to ensure a summarize
// job and a vector-upload job for the same chat never run concurrently.
type PersistenceOrchestrator struct {
	cfg      Config
	log      *logger.Logger
	sessions *SessionStore
	ledger   *UploadLedger
	profiles *ProfileStore
	vector   *VectorMemory
	model    ModelAdapter
	objects  ObjectStore
	queue    *Queue
	flushSem *semaphore.Weighted

	mu       sync.Mutex
	chatLock map[string]*sync.Mutex
}

func NewPersistenceOrchestrator(
	cfg Config,
	log *logger.Logger,
	sessions *SessionStore,
	ledger *UploadLedger,
	profiles *ProfileStore,
	vector *VectorMemory,
	model ModelAdapter,
	objects ObjectStore,
	queue *Queue,
) *PersistenceOrchestrator {
	n := int64(cfg.FlushConcurrency)
	if n <= 0 {
		n = 1
	}
	o := &PersistenceOrchestrator{
		cfg:      cfg,
		log:      log.With("component", "persistence_orchestrator"),
		sessions: sessions,
		ledger:   ledger,
		profiles: profiles,
		vector:   vector,
		model:    model,
		objects:  objects,
		queue:    queue,
		flushSem: semaphore.NewWeighted(n),
		chatLock: make(map[string]*sync.Mutex),
	}
	sessions.SetDrainFunc(o.EndChat)
	queue.RegisterHandler(JobSummarize, o.handleSummarize)
	queue.RegisterHandler(JobVectorUpload, o.handleVectorUpload)
	queue.RegisterHandler(JobProfileMerge, o.handleProfileMerge)
	return o
}

func (o *PersistenceOrchestrator) chatMutex(chatID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.chatLock[chatID]
	if !ok {
		l = &sync.Mutex{}
		o.chatLock[chatID] = l
	}
	return l
}

// RecordTurn uploads any artifacts out-of-band, appends the turn to the
// session window, and schedules the background work it triggers: a
// profile-merge job always, a vector-upload job always (the handler itself
// honors the ledger cooldown, self-rescheduling rather than relying on a
// one-time check here), and, if the session has grown enough, a summarize
// job. Returns the assigned turn id.
func (o *PersistenceOrchestrator) RecordTurn(ctx context.Context, userID, chatID, userText, assistantText string, uploads []ArtifactUpload) (string, error) {
	artifacts := o.uploadArtifacts(ctx, userID, chatID, uploads)

	t, err := o.sessions.AppendTurn(userID, chatID, userText, assistantText, artifacts)
	if err != nil {
		return "", err
	}

	if err := o.queue.Enqueue(ctx, Job{Type: JobProfileMerge, UserID: userID, ChatID: chatID, Payload: mustEncodeTurn(t)}); err != nil {
		o.log.Warn("RecordTurn: profile_merge enqueue failed", "chatId", chatID, "error", err)
	}

	if err := o.queue.Enqueue(ctx, Job{Type: JobVectorUpload, UserID: userID, ChatID: chatID}); err != nil {
		o.log.Warn("RecordTurn: vector_upload enqueue failed", "chatId", chatID, "error", err)
	}

	snap, ok := o.sessions.Snapshot(userID, chatID)
	if ok && int64(len(snap.RecentTurns)) >= int64(o.cfg.SessionTurnCap) {
		if err := o.queue.Enqueue(ctx, Job{Type: JobSummarize, UserID: userID, ChatID: chatID}); err != nil {
			o.log.Warn("RecordTurn: summarize enqueue failed", "chatId", chatID, "error", err)
		}
	}
	return t.ID, nil
}

// uploadArtifacts persists each upload via ObjectStore and turns it into an
// Artifact pointer. A failed upload is logged and skipped rather than
// failing the whole turn: losing one attachment is recoverable, losing the
// turn itself is not.
func (o *PersistenceOrchestrator) uploadArtifacts(ctx context.Context, userID, chatID string, uploads []ArtifactUpload) []Artifact {
	if len(uploads) == 0 || o.objects == nil {
		return nil
	}
	artifacts := make([]Artifact, 0, len(uploads))
	for _, u := range uploads {
		id := NewArtifactID()
		key := fmt.Sprintf("%s/%s/%d-%s", userID, chatID, time.Now().UnixNano(), id)
		uri, err := o.objects.PutArtifact(ctx, key, u.Data, u.ContentType)
		if err != nil {
			o.log.Warn("RecordTurn: artifact upload failed", "chatId", chatID, "kind", u.Kind, "error", err)
			continue
		}
		artifacts = append(artifacts, Artifact{ID: id, Kind: u.Kind, URI: uri, CreatedAt: time.Now()})
	}
	return artifacts
}

// EndChat drains a chat: it marks the session draining so concurrent
// RecordTurn calls are rejected, flushes any unuploaded turns to the vector
// store, forces a final summary, then evicts the session so a later turn
// starts a fresh one. force=true is used by the SessionStore janitor and by
// callers that want a best-effort close even if the flush partially fails;
// force=false callers get the flush error back and the session stays
// draining (so a retried EndChat can pick up where this one left off).
func (o *PersistenceOrchestrator) EndChat(ctx context.Context, userID, chatID string, force bool) error {
	if err := o.flushSem.Acquire(ctx, 1); err != nil {
		return NewError("EndChat", KindTransient, err)
	}
	defer o.flushSem.Release(1)

	lock := o.chatMutex(chatID)
	lock.Lock()
	defer lock.Unlock()

	o.sessions.MarkDraining(userID, chatID)

	snap, ok := o.sessions.Snapshot(userID, chatID)
	if !ok {
		return nil
	}

	if len(snap.RecentTurns) > 0 {
		if err := o.flushTurns(ctx, userID, chatID, snap.RecentTurns); err != nil && !force {
			return err
		}
	}

	if len(snap.RecentTurns) > 0 {
		summary, err := o.model.Summarize(ctx, snap.RollingSummary, snap.RecentTurns)
		if err != nil && !force {
			return NewError("EndChat", KindTransient, err)
		}
		if err == nil {
			o.sessions.UpdateSummary(userID, chatID, summary, snap.RecentTurns[len(snap.RecentTurns)-1].Seq)
		}
	}

	o.sessions.Evict(userID, chatID)
	return nil
}

// SaveAll ends every listed chat for a user concurrently, bounded by
// FlushConcurrency, for a full-account flush (e.g. before export). It
// collects and returns the first error encountered but still attempts every
// chat.
func (o *PersistenceOrchestrator) SaveAll(ctx context.Context, userID string, chatIDs []string) error {
	n := int64(o.cfg.FlushConcurrency)
	if n <= 0 {
		n = 1
	}
	sem := semaphore.NewWeighted(n)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, chatID := range chatIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(chatID string) {
			defer wg.Done()
			defer sem.Release(1)
			if err := o.EndChat(ctx, userID, chatID, true); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(chatID)
	}
	wg.Wait()
	return firstErr
}

// DeleteChat permanently removes a chat's state from every component: its
// in-memory session, its long-term vector records, and its upload-ledger
// bookkeeping.
func (o *PersistenceOrchestrator) DeleteChat(ctx context.Context, userID, chatID string) error {
	if err := o.sessions.Purge(userID, chatID); err != nil {
		return err
	}
	if err := o.vector.DeleteByScope(ctx, DeleteScope{UserID: userID, ChatID: chatID}); err != nil {
		return err
	}
	o.ledger.Forget(chatID)
	return nil
}

// DeleteUser permanently removes every trace of a user: all of their chats
// (session state and vector records) plus their durable profile and its
// vector embedding.
func (o *PersistenceOrchestrator) DeleteUser(ctx context.Context, userID string) error {
	if err := o.sessions.Purge(userID, ""); err != nil {
		return err
	}
	if err := o.vector.DeleteByScope(ctx, DeleteScope{UserID: userID}); err != nil {
		return err
	}
	if err := o.profiles.Delete(ctx, userID); err != nil {
		return err
	}
	return nil
}

func (o *PersistenceOrchestrator) flushTurns(ctx context.Context, userID, chatID string, turns []Turn) error {
	ids := make([]string, len(turns))
	for i, t := range turns {
		ids[i] = t.ID
	}
	unuploaded, err := o.ledger.Unuploaded(ctx, userID, chatID, ids)
	if err != nil {
		return err
	}
	if len(unuploaded) == 0 {
		return nil
	}

	pending := map[string]struct{}{}
	for _, id := range unuploaded {
		pending[id] = struct{}{}
	}

	records := make([]MemoryRecord, 0, len(unuploaded)*2)
	for _, t := range turns {
		if _, ok := pending[t.ID]; !ok {
			continue
		}
		if t.UserText != "" {
			records = append(records, MemoryRecord{
				ID:        t.ID + ":user",
				UserID:    t.UserID,
				ChatID:    t.ChatID,
				Kind:      KindConversation,
				Seq:       t.Seq,
				Text:      t.UserText,
				CreatedAt: t.CreatedAt,
			})
		}
		if t.AssistantText != "" {
			records = append(records, MemoryRecord{
				ID:        t.ID + ":assistant",
				UserID:    t.UserID,
				ChatID:    t.ChatID,
				Kind:      KindConversation,
				Seq:       t.Seq,
				Text:      t.AssistantText,
				CreatedAt: t.CreatedAt,
			})
		}
	}

	if err := o.vector.Upsert(ctx, records); err != nil {
		return err
	}
	o.ledger.MarkUploaded(chatID, unuploaded)
	return nil
}

func (o *PersistenceOrchestrator) handleSummarize(ctx context.Context, job Job) error {
	lock := o.chatMutex(job.ChatID)
	lock.Lock()
	defer lock.Unlock()

	snap, ok := o.sessions.Snapshot(job.UserID, job.ChatID)
	if !ok || len(snap.RecentTurns) == 0 {
		return nil
	}
	summary, err := o.model.Summarize(ctx, snap.RollingSummary, snap.RecentTurns)
	if err != nil {
		return NewError("handleSummarize", KindTransient, err)
	}
	o.sessions.UpdateSummary(job.UserID, job.ChatID, summary, snap.RecentTurns[len(snap.RecentTurns)-1].Seq)

	record := MemoryRecord{
		ID:        NewMemoryRecordID(),
		UserID:    job.UserID,
		ChatID:    job.ChatID,
		Kind:      KindSummary,
		Seq:       snap.RecentTurns[len(snap.RecentTurns)-1].Seq,
		Text:      summary,
		CreatedAt: time.Now(),
	}
	if err := o.vector.Upsert(ctx, []MemoryRecord{record}); err != nil {
		return NewError("handleSummarize", KindTransient, err)
	}
	return nil
}

// handleVectorUpload checks the upload cooldown itself rather than trusting
// a one-time pre-check made when the job was enqueued: if the cooldown
// hasn't elapsed yet, it self-reschedules the job to fire once it has,
// rather than dropping the upload. This is what actually makes the
// cooldown-elision behavior work when no further turn arrives to re-trigger
// it.
func (o *PersistenceOrchestrator) handleVectorUpload(ctx context.Context, job Job) error {
	now := time.Now()
	if !o.ledger.CooldownElapsed(job.ChatID, now) {
		remaining := o.ledger.CooldownRemaining(job.ChatID, now)
		rescheduled := job
		rescheduled.RunAt = now.Add(remaining)
		if err := o.queue.Enqueue(ctx, rescheduled); err != nil {
			o.log.Warn("handleVectorUpload: cooldown reschedule failed", "chatId", job.ChatID, "error", err)
		}
		return nil
	}

	lock := o.chatMutex(job.ChatID)
	lock.Lock()
	defer lock.Unlock()

	snap, ok := o.sessions.Snapshot(job.UserID, job.ChatID)
	if !ok {
		return nil
	}
	return o.flushTurns(ctx, job.UserID, job.ChatID, snap.RecentTurns)
}

func (o *PersistenceOrchestrator) handleProfileMerge(ctx context.Context, job Job) error {
	turn, err := decodeTurn(job.Payload)
	if err != nil {
		return NewError("handleProfileMerge", KindInvalidInput, err)
	}
	updates, err := o.model.ExtractProfileFields(ctx, turn)
	if err != nil {
		return NewError("handleProfileMerge", KindTransient, err)
	}
	if len(updates) == 0 {
		return nil
	}
	_, err = o.profiles.Merge(ctx, turn.UserID, turn.ID, turn.ChatID, updates)
	if err != nil {
		return err
	}
	return nil
}

func mustEncodeTurn(t Turn) []byte {
	b, err := encodeTurn(t)
	if err != nil {
		return nil
	}
	return b
}
