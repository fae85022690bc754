package mcos

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fernbank/mcos/internal/platform/logger"
)

const stripeCount = 64

// identifierRe is the closed format userId/chatId must satisfy; anything
// else is an InvalidInput rather than silently accepted.
var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func validIdentifier(id string) bool {
	return identifierRe.MatchString(id)
}

type sessionKey struct {
	userID string
	chatID string
}

type sessionEntry struct {
	mu      sync.RWMutex
	session ChatSession
}

type stripe struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*sessionEntry
}

// DrainFunc is invoked by the janitor sweep before a session is evicted, so
// the caller (normally PersistenceOrchestrator.EndChat) can flush any
// pending state first.
type DrainFunc func(ctx context.Context, userID, chatID string, force bool) error

// SessionStore holds the bounded, in-memory recent-turn window for every
// active chat, guarded by a striped lock: the top-level stripe map is
// locked first, then the per-session lock, matching the global lock
// ordering used by UploadLedger and PersistenceOrchestrator.
type SessionStore struct {
	stripes [stripeCount]*stripe
	cfg     Config
	log     *logger.Logger
	metrics *Metrics

	drainMu sync.RWMutex
	drain   DrainFunc

	// recency tracks which sessions were most recently touched, bounding
	// the total number of concurrently held sessions independent of the
	// TTL janitor: once MaxSessions is exceeded, the least-recently-used
	// session is force-drained and evicted.
	recency *lru.Cache[sessionKey, struct{}]
}

func NewSessionStore(cfg Config, log *logger.Logger, metrics *Metrics) *SessionStore {
	lg := log.With("component", "session_store")
	s := &SessionStore{cfg: cfg, log: lg, metrics: metrics}
	for i := range s.stripes {
		s.stripes[i] = &stripe{sessions: make(map[sessionKey]*sessionEntry)}
	}

	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 100000
	}
	cache, err := lru.NewWithEvict[sessionKey, struct{}](maxSessions, func(key sessionKey, _ struct{}) {
		go s.evictLRU(key.userID, key.chatID)
	})
	if err != nil {
		// Only fails on non-positive size, which can't happen given the
		// guard above; fall back to a one-entry index with no eviction
		// callback rather than panic.
		cache, _ = lru.New[sessionKey, struct{}](1)
	}
	s.recency = cache
	return s
}

func (s *SessionStore) evictLRU(userID, chatID string) {
	ctx := context.Background()
	s.drainMu.RLock()
	drain := s.drain
	s.drainMu.RUnlock()

	s.MarkDraining(userID, chatID)
	if drain != nil {
		if err := drain(ctx, userID, chatID, true); err != nil {
			s.log.Warn("lru eviction: drain failed", "userId", userID, "chatId", chatID, "error", err)
			return
		}
	}
	s.Evict(userID, chatID)
	s.metrics.IncSessionEvicted(ctx)
}

// SetDrainFunc wires the callback the janitor uses to force-end a chat
// before evicting its session. PersistenceOrchestrator calls this during
// wiring to close the cycle C1 -> C6 -> C1.
func (s *SessionStore) SetDrainFunc(fn DrainFunc) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()
	s.drain = fn
}

func (s *SessionStore) stripeFor(userID, chatID string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(chatID))
	idx := h.Sum32() % stripeCount
	return s.stripes[idx]
}

// GetOrCreate returns the session for (userId, chatId), creating an empty
// one if none exists yet.
func (s *SessionStore) GetOrCreate(userID, chatID string) *sessionEntry {
	key := sessionKey{userID, chatID}
	st := s.stripeFor(userID, chatID)

	st.mu.RLock()
	if e, ok := st.sessions[key]; ok {
		st.mu.RUnlock()
		s.recency.Add(key, struct{}{})
		return e
	}
	st.mu.RUnlock()

	st.mu.Lock()
	if e, ok := st.sessions[key]; ok {
		st.mu.Unlock()
		s.recency.Add(key, struct{}{})
		return e
	}
	e := &sessionEntry{session: ChatSession{
		UserID:         userID,
		ChatID:         chatID,
		LastActivityAt: time.Now(),
	}}
	st.sessions[key] = e
	st.mu.Unlock()
	s.recency.Add(key, struct{}{})
	return e
}

// Get returns the session for (userId, chatId), or (nil, false) if no
// session exists.
func (s *SessionStore) Get(userID, chatID string) (*sessionEntry, bool) {
	st := s.stripeFor(userID, chatID)
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.sessions[sessionKey{userID, chatID}]
	return e, ok
}

// AppendTurn builds and appends a turn to a chat's recent-turn window: it
// assigns the session-scoped monotonic seq and the content-addressed turn
// id itself (callers never supply either), evicting the oldest turn first
// (FIFO) once SessionTurnCap is exceeded. If the computed id is already in
// the window, the existing turn is returned rather than appended again.
// Each call takes a fresh seq, so a caller that retries AppendTurn appends
// a second turn.
func (s *SessionStore) AppendTurn(userID, chatID, userText, assistantText string, artifacts []Artifact) (Turn, error) {
	if !validIdentifier(userID) || !validIdentifier(chatID) {
		return Turn{}, NewError("AppendTurn", KindInvalidInput, fmt.Errorf("userId/chatId must match %s", identifierRe.String()))
	}
	if strings.TrimSpace(userText) == "" && strings.TrimSpace(assistantText) == "" {
		return Turn{}, NewError("AppendTurn", KindInvalidInput, fmt.Errorf("turn must carry a userText or assistantText"))
	}

	e := s.GetOrCreate(userID, chatID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Draining {
		return Turn{}, NewError("AppendTurn", KindChatDraining, ErrChatNotFound)
	}

	now := time.Now()
	seq := e.session.NextSeq
	id := NewTurnID(userID, chatID, seq, now)

	for _, existing := range e.session.RecentTurns {
		if existing.ID == id {
			return existing, nil
		}
	}

	t := Turn{
		ID:            id,
		UserID:        userID,
		ChatID:        chatID,
		Seq:           seq,
		UserText:      userText,
		AssistantText: assistantText,
		Artifacts:     artifacts,
		CreatedAt:     now,
	}
	e.session.NextSeq++
	e.session.RecentTurns = append(e.session.RecentTurns, t)
	if turnCap := s.cfg.SessionTurnCap; turnCap > 0 && len(e.session.RecentTurns) > turnCap {
		overflow := len(e.session.RecentTurns) - turnCap
		e.session.RecentTurns = e.session.RecentTurns[overflow:]
	}
	e.session.LastActivityAt = now
	return t, nil
}

// Search ranks in-memory turns against query by substring/token overlap, no
// embeddings involved — the fast first tier used before falling back to
// C4. chatID empty means "every chat for this user". k <= 0 means
// unbounded.
func (s *SessionStore) Search(userID, chatID, query string, k int) []Turn {
	var candidates []Turn
	if chatID != "" {
		if snap, ok := s.Snapshot(userID, chatID); ok {
			candidates = snap.RecentTurns
		}
	} else {
		for _, st := range s.stripes {
			st.mu.RLock()
			for key, e := range st.sessions {
				if key.userID != userID {
					continue
				}
				e.mu.RLock()
				candidates = append(candidates, append([]Turn(nil), e.session.RecentTurns...)...)
				e.mu.RUnlock()
			}
			st.mu.RUnlock()
		}
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Seq < candidates[j].Seq })
		if k > 0 && len(candidates) > k {
			candidates = candidates[len(candidates)-k:]
		}
		return candidates
	}

	terms := strings.Fields(query)
	type scoredTurn struct {
		turn  Turn
		score int
	}
	var ranked []scoredTurn
	for _, t := range candidates {
		text := strings.ToLower(t.UserText + " " + t.AssistantText)
		score := 0
		if strings.Contains(text, query) {
			score += len(terms) * 2
		}
		for _, term := range terms {
			if term != "" && strings.Contains(text, term) {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scoredTurn{t, score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].turn.Seq > ranked[j].turn.Seq
	})

	out := make([]Turn, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.turn)
	}
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Purge removes one chat's session, or every session for a user when
// chatID is empty. Used by PersistenceOrchestrator.DeleteChat/DeleteUser.
func (s *SessionStore) Purge(userID, chatID string) error {
	if chatID != "" {
		s.Evict(userID, chatID)
		s.recency.Remove(sessionKey{userID, chatID})
		return nil
	}

	var keys []sessionKey
	for _, st := range s.stripes {
		st.mu.RLock()
		for key := range st.sessions {
			if key.userID == userID {
				keys = append(keys, key)
			}
		}
		st.mu.RUnlock()
	}
	for _, key := range keys {
		s.Evict(key.userID, key.chatID)
		s.recency.Remove(key)
	}
	return nil
}

// UpdateSummary replaces the rolling summary and advances the
// covered-through watermark. Callers (the summarization job) must only
// advance coveredThroughSeq monotonically; MCOS enforces this here.
func (s *SessionStore) UpdateSummary(userID, chatID, summary string, coveredThroughSeq int64) {
	e, ok := s.Get(userID, chatID)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if coveredThroughSeq < e.session.CoveredThroughSeq {
		return
	}
	e.session.RollingSummary = summary
	e.session.CoveredThroughSeq = coveredThroughSeq
}

// Snapshot returns a copy of the current session state, safe to read
// without holding any lock afterward.
func (s *SessionStore) Snapshot(userID, chatID string) (ChatSession, bool) {
	e, ok := s.Get(userID, chatID)
	if !ok {
		return ChatSession{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp := e.session
	cp.RecentTurns = append([]Turn(nil), e.session.RecentTurns...)
	return cp, true
}

// MarkDraining flags a session as draining so new AppendTurn calls are
// rejected while a forced EndChat is in flight.
func (s *SessionStore) MarkDraining(userID, chatID string) {
	e, ok := s.Get(userID, chatID)
	if !ok {
		return
	}
	e.mu.Lock()
	e.session.Draining = true
	e.mu.Unlock()
}

// Evict removes a session entirely from the store. Called once a drain has
// completed (or the janitor's TTL sweep fires).
func (s *SessionStore) Evict(userID, chatID string) {
	st := s.stripeFor(userID, chatID)
	st.mu.Lock()
	delete(st.sessions, sessionKey{userID, chatID})
	st.mu.Unlock()
}

// Sweep walks every session and force-drains any whose LastActivityAt is
// older than SessionTTL, invoking the registered DrainFunc first. It is
// intended to be called by a scheduled janitor (see
// internal/platform/cronjanitor).
func (s *SessionStore) Sweep(ctx context.Context, now time.Time) {
	s.drainMu.RLock()
	drain := s.drain
	s.drainMu.RUnlock()

	type stale struct{ userID, chatID string }
	var toEvict []stale

	for _, st := range s.stripes {
		st.mu.RLock()
		for key, e := range st.sessions {
			e.mu.RLock()
			expired := now.Sub(e.session.LastActivityAt) > s.cfg.SessionTTL
			e.mu.RUnlock()
			if expired {
				toEvict = append(toEvict, stale{key.userID, key.chatID})
			}
		}
		st.mu.RUnlock()
	}

	for _, t := range toEvict {
		s.MarkDraining(t.userID, t.chatID)
		if drain != nil {
			if err := drain(ctx, t.userID, t.chatID, true); err != nil {
				s.log.Warn("sweep: drain failed before eviction", "userId", t.userID, "chatId", t.chatID, "error", err)
				continue
			}
		}
		s.Evict(t.userID, t.chatID)
		s.metrics.IncSessionEvicted(ctx)
		s.log.Debug("sweep: evicted idle session", "userId", t.userID, "chatId", t.chatID)
	}
}
