package mcos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fernbank/mcos/internal/platform/logger"
)

// ProfileStore maintains the durable, cross-chat UserProfile, applying the
// monotonic-confidence field overwrite rule on every Merge: a field is only
// overwritten if the new candidate's confidence is >= the confidence on
// record for that field (strictly-lower-confidence updates are dropped).
// Every successful merge also re-embeds the profile into C4 with
// kind=profile, so retrieval can surface profile facts alongside
// conversation/summary records; vector may be nil in tests that don't
// exercise that path.
type ProfileStore struct {
	cfg    Config
	log    *logger.Logger
	store  ProfileDocStore
	vector *VectorMemory

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewProfileStore(cfg Config, log *logger.Logger, store ProfileDocStore, vector *VectorMemory) *ProfileStore {
	return &ProfileStore{
		cfg:    cfg,
		log:    log.With("component", "profile_store"),
		store:  store,
		vector: vector,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (p *ProfileStore) lockFor(userID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[userID] = l
	}
	return l
}

// Get reads the current profile for a user, returning a zero-value profile
// (not an error) if none exists yet — a profile is lazily created on first
// Merge.
func (p *ProfileStore) Get(ctx context.Context, userID string) (*UserProfile, error) {
	prof, err := p.store.Read(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return &UserProfile{UserID: userID, FieldProvenance: map[string]FieldProvenance{}}, nil
		}
		return nil, NewError("Get", KindTransient, err)
	}
	return prof, nil
}

// Merge applies field updates extracted from a single turn, honoring the
// monotonic-confidence overwrite rule and retrying on StaleWrite by
// re-reading and reapplying, up to 3 attempts.
func (p *ProfileStore) Merge(ctx context.Context, userID, turnID, chatID string, updates map[string]FieldUpdate) (*UserProfile, error) {
	lock := p.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		current, err := p.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if current.FieldProvenance == nil {
			current.FieldProvenance = map[string]FieldProvenance{}
		}

		changed := p.applyUpdates(current, turnID, chatID, updates)
		if !changed {
			return current, nil
		}

		current.UpdatedAt = time.Now()
		expectedVersion := current.Version
		current.Version = expectedVersion + 1

		if err := p.store.Write(ctx, current, expectedVersion); err != nil {
			if Is(err, KindStaleWrite) {
				lastErr = err
				continue
			}
			return nil, NewError("Merge", KindTransient, err)
		}
		p.syncVector(ctx, current)
		return current, nil
	}
	return nil, NewError("Merge", KindStaleWrite, lastErr)
}

// syncVector re-embeds the profile into C4 under kind=profile so retrieval
// can surface profile facts alongside conversation/summary records. Failure
// is logged and swallowed: profile persistence in C3 already succeeded, and
// a stale or missing profile embedding degrades retrieval rather than losing
// data.
func (p *ProfileStore) syncVector(ctx context.Context, profile *UserProfile) {
	if p.vector == nil {
		return
	}
	text := profileText(profile)
	if text == "" {
		return
	}
	record := MemoryRecord{
		ID:        "profile:" + profile.UserID,
		UserID:    profile.UserID,
		Kind:      KindProfile,
		Seq:       profile.Version,
		Text:      text,
		CreatedAt: profile.UpdatedAt,
	}
	if err := p.vector.Upsert(ctx, []MemoryRecord{record}); err != nil {
		p.log.Warn("profile vector sync failed", "userId", profile.UserID, "error", err)
	}
}

// profileText renders a profile into the flat text C4 embeds, with
// attributes sorted so the same profile always produces the same text.
func profileText(profile *UserProfile) string {
	var b strings.Builder
	if profile.DisplayName != "" {
		fmt.Fprintf(&b, "name: %s\n", profile.DisplayName)
	}
	if len(profile.Interests) > 0 {
		fmt.Fprintf(&b, "interests: %s\n", strings.Join(profile.Interests, ", "))
	}
	if len(profile.Attributes) > 0 {
		keys := make([]string, 0, len(profile.Attributes))
		for k := range profile.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, profile.Attributes[k])
		}
	}
	return strings.TrimSpace(b.String())
}

// applyUpdates mutates profile in place per the monotonic-confidence rule
// and returns whether anything actually changed.
func (p *ProfileStore) applyUpdates(profile *UserProfile, turnID, chatID string, updates map[string]FieldUpdate) bool {
	changed := false
	if profile.Attributes == nil {
		profile.Attributes = map[string]string{}
	}

	for field, upd := range updates {
		prior, hasPrior := profile.FieldProvenance[field]
		if hasPrior && upd.Confidence < prior.Confidence {
			continue
		}
		if field == "interests" {
			if p.addInterest(profile, upd.Value) {
				changed = true
				profile.FieldProvenance[field] = FieldProvenance{TurnID: turnID, ChatID: chatID, Confidence: upd.Confidence}
			}
			continue
		}
		if field == "displayName" {
			if profile.DisplayName == upd.Value {
				continue
			}
			profile.DisplayName = upd.Value
		} else {
			if existing, ok := profile.Attributes[field]; ok && existing == upd.Value {
				continue
			}
			profile.Attributes[field] = upd.Value
		}
		profile.FieldProvenance[field] = FieldProvenance{TurnID: turnID, ChatID: chatID, Confidence: upd.Confidence}
		changed = true
	}
	return changed
}

func (p *ProfileStore) addInterest(profile *UserProfile, value string) bool {
	for _, existing := range profile.Interests {
		if existing == value {
			return false
		}
	}
	interestCap := p.cfg.ProfileInterestCap
	if interestCap <= 0 {
		interestCap = 50
	}
	if len(profile.Interests) >= interestCap {
		profile.Interests = profile.Interests[1:]
	}
	profile.Interests = append(profile.Interests, value)
	return true
}

// Delete removes a user's profile entirely (e.g. on account deletion),
// including its C4 embedding.
func (p *ProfileStore) Delete(ctx context.Context, userID string) error {
	if err := p.store.Delete(ctx, userID); err != nil {
		return NewError("Delete", KindTransient, err)
	}
	if p.vector != nil {
		if err := p.vector.DeleteByScope(ctx, DeleteScope{UserID: userID, Kind: KindProfile}); err != nil {
			p.log.Warn("profile vector delete failed", "userId", userID, "error", err)
		}
	}
	return nil
}
