package mcos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fernbank/mcos/internal/platform/logger"
)

// recallTriggerPhrases is the closed list of phrases that always force
// long-term retrieval regardless of what the local tier looks like.
var recallTriggerPhrases = []string{
	"remember",
	"earlier",
	"last time",
	"we discussed",
	"you said",
	"my name",
	"my preferences",
}

func containsRecallPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range recallTriggerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ContextAssembler builds the bounded prompt context for a turn out of
// three tiers: the in-memory recent-turn window and rolling summary (C1),
// retrieved long-term memory (C4), and profile facts (C3), augmented with
// cached document chunks when the caller names a document, trimming to fit
// a token budget with a fixed drop order.
type ContextAssembler struct {
	cfg       Config
	log       *logger.Logger
	sessions  *SessionStore
	vector    *VectorMemory
	profiles  *ProfileStore
	model     ModelAdapter
	documents DocumentCache
	estimator TokenEstimator
	metrics   *Metrics
}

func NewContextAssembler(cfg Config, log *logger.Logger, sessions *SessionStore, vector *VectorMemory, profiles *ProfileStore, model ModelAdapter, documents DocumentCache, metrics *Metrics) *ContextAssembler {
	return &ContextAssembler{
		cfg:       cfg,
		log:       log.With("component", "context_assembler"),
		sessions:  sessions,
		vector:    vector,
		profiles:  profiles,
		model:     model,
		documents: documents,
		estimator: NewTokenEstimator(cfg.TokenEstimator),
		metrics:   metrics,
	}
}

// AssembleRequest carries the inputs needed to build a context bundle for
// one turn.
type AssembleRequest struct {
	UserID        string
	ChatID        string
	QueryText     string
	QueryVector   []float32
	DocumentID    string // optional: when set and a DocumentCache is wired, step 6 fetches its top chunks
	RecallTrigger bool   // true if the caller already knows this turn is a recall request
}

// AssembleContext builds a ContextBundle within cfg.AssembleDeadline,
// returning a partial bundle (Partial=true) rather than an error if the
// deadline is exceeded before all tiers finish, per the concurrency model.
// It returns an error only when the request itself is invalid: an empty
// QueryText or malformed identifiers. Every other collaborator failure
// (profile, retrieval, document chunks) degrades the bundle instead.
func (a *ContextAssembler) AssembleContext(ctx context.Context, req AssembleRequest) (*ContextBundle, error) {
	if strings.TrimSpace(req.QueryText) == "" {
		return nil, NewError("AssembleContext", KindInvalidInput, fmt.Errorf("queryText must not be empty"))
	}
	if !validIdentifier(req.UserID) || !validIdentifier(req.ChatID) {
		return nil, NewError("AssembleContext", KindInvalidInput, fmt.Errorf("userId/chatId must match %s", identifierRe.String()))
	}

	deadline := a.cfg.AssembleDeadline
	if deadline <= 0 {
		deadline = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	bundle := &ContextBundle{TokenBudget: a.cfg.TokenBudget}

	session, ok := a.sessions.Snapshot(req.UserID, req.ChatID)
	if ok {
		bundle.RecentTurns = session.RecentTurns
		bundle.RollingSummary = session.RollingSummary
	}

	profile, err := a.profiles.Get(ctx, req.UserID)
	if err != nil {
		bundle.Degraded = true
		bundle.DegradedSections = append(bundle.DegradedSections, DegradedSection{Section: "profile", Reason: err.Error()})
		a.log.Warn("assemble: profile fetch failed", "userId", req.UserID, "error", err)
	} else {
		bundle.ProfileFacts = profile
	}

	reason := a.decideRetrieval(ctx, bundle, req)
	bundle.RetrievalReason = reason
	if reason != ReasonSkipped {
		chunks, err := a.retrieve(ctx, bundle, req)
		if err != nil {
			bundle.Degraded = true
			bundle.DegradedSections = append(bundle.DegradedSections, DegradedSection{Section: "retrieved_chunks", Reason: err.Error()})
			a.log.Warn("assemble: retrieval failed", "userId", req.UserID, "chatId", req.ChatID, "reason", reason, "error", err)
		} else {
			bundle.RetrievedChunks = chunks
		}
	}

	if req.DocumentID != "" && a.documents != nil {
		chunks, err := a.documents.TopChunks(ctx, req.DocumentID, req.QueryText, 3)
		if err != nil {
			bundle.Degraded = true
			bundle.DegradedSections = append(bundle.DegradedSections, DegradedSection{Section: "document_chunks", Reason: err.Error()})
			a.log.Warn("assemble: document chunk retrieval failed", "userId", req.UserID, "documentId", req.DocumentID, "error", err)
		} else {
			bundle.DocumentChunks = chunks
		}
	}

	if ctx.Err() != nil {
		bundle.Partial = true
		a.metrics.IncAssembleDeadline(ctx)
	}

	a.applyBudget(bundle)
	return bundle, nil
}

// decideRetrieval decides, and logs, whether long-term retrieval should run
// for this turn. A recall trigger phrase (or a caller-flagged one) always
// retrieves; otherwise, if a ModelAdapter is wired, its intent classifier
// gets a say; failing that, retrieval only runs when the local tier (recent
// turns + summary) looks thin.
func (a *ContextAssembler) decideRetrieval(ctx context.Context, bundle *ContextBundle, req AssembleRequest) (reason string) {
	defer func() {
		a.log.Info("assemble: retrieval decision", "userId", req.UserID, "chatId", req.ChatID, "retrieval_reason", reason)
	}()
	if req.RecallTrigger || containsRecallPhrase(req.QueryText) {
		return ReasonRecallPhrase
	}
	if a.model != nil {
		tag, err := a.model.ClassifyIntent(ctx, req.QueryText)
		if err != nil {
			a.log.Warn("assemble: intent classification failed", "userId", req.UserID, "error", err)
		} else if tag == IntentReferencesPast {
			return ReasonIntentClassifier
		}
	}
	if a.looksThin(bundle) {
		return ReasonLocalTierThin
	}
	return ReasonSkipped
}

func (a *ContextAssembler) looksThin(bundle *ContextBundle) bool {
	return len(bundle.RecentTurns) < a.cfg.MinRecentTurns && bundle.RollingSummary == ""
}

// retrieve implements the scope-selection rule from the assembly algorithm:
// a brand-new chat (no recent turns yet) queries wholeUser directly;
// otherwise it queries chatOnly first, falling back to (and merging with) a
// wholeUser query if the chat-scoped result comes back thinner than k/2.
func (a *ContextAssembler) retrieve(ctx context.Context, bundle *ContextBundle, req AssembleRequest) ([]MemoryRecord, error) {
	k := a.cfg.RetrievalTopK
	if k <= 0 {
		k = 10
	}
	minScore := a.cfg.RetrievalMinScore
	if minScore <= 0 {
		minScore = 0.5
	}

	chatID := req.ChatID
	if len(bundle.RecentTurns) == 0 {
		chatID = ""
	}

	results, err := a.vector.Query(ctx, ScopedQuery{
		UserID:    req.UserID,
		ChatID:    chatID,
		Kinds:     []MemoryRecordKind{KindConversation, KindSummary, KindProfile},
		TopK:      k,
		QueryText: req.QueryText,
		Vector:    req.QueryVector,
		MinScore:  minScore,
	})
	if err != nil {
		return nil, err
	}

	if chatID != "" && len(results) < k/2 {
		fallback, err := a.vector.Query(ctx, ScopedQuery{
			UserID:    req.UserID,
			ChatID:    "",
			Kinds:     []MemoryRecordKind{KindConversation, KindSummary, KindProfile},
			TopK:      k,
			QueryText: req.QueryText,
			Vector:    req.QueryVector,
			MinScore:  minScore,
		})
		if err != nil {
			return results, nil
		}
		results = mergeUniqueRecords(results, fallback)
	}
	return results, nil
}

// mergeUniqueRecords concatenates a and b, keeping a's ordering and
// dropping any record from b whose id already appeared in a.
func mergeUniqueRecords(a, b []MemoryRecord) []MemoryRecord {
	seen := make(map[string]struct{}, len(a))
	out := make([]MemoryRecord, 0, len(a)+len(b))
	for _, r := range a {
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	for _, r := range b {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// applyBudget trims bundle sections to fit TokenBudget in the specified
// drop order: document chunks first (the most supplementary section), then
// retrieved chunks, then drop the oldest recent turns down to a floor of
// MinRecentTurns, then finally truncate the rolling summary itself to
// SummaryTokenCap tokens.
func (a *ContextAssembler) applyBudget(bundle *ContextBundle) {
	budget := bundle.TokenBudget
	if budget <= 0 {
		budget = 6000
	}

	used := a.estimator.Estimate(bundle.RollingSummary)
	for _, t := range bundle.RecentTurns {
		used += a.estimator.Estimate(t.UserText) + a.estimator.Estimate(t.AssistantText)
	}
	for _, c := range bundle.RetrievedChunks {
		used += a.estimator.Estimate(c.Text)
	}
	for _, c := range bundle.DocumentChunks {
		used += a.estimator.Estimate(c.Text)
	}
	if bundle.ProfileFacts != nil {
		used += a.estimator.Estimate(bundle.ProfileFacts.DisplayName)
		for _, i := range bundle.ProfileFacts.Interests {
			used += a.estimator.Estimate(i)
		}
	}

	// Step 0: drop document chunks, lowest-scored first, until within
	// budget or none remain.
	for used > budget && len(bundle.DocumentChunks) > 0 {
		last := len(bundle.DocumentChunks) - 1
		used -= a.estimator.Estimate(bundle.DocumentChunks[last].Text)
		bundle.DocumentChunks = bundle.DocumentChunks[:last]
		bundle.Partial = true
	}

	// Step 1: drop retrieved chunks, lowest-scored first, until within
	// budget or none remain.
	for used > budget && len(bundle.RetrievedChunks) > 0 {
		last := len(bundle.RetrievedChunks) - 1
		used -= a.estimator.Estimate(bundle.RetrievedChunks[last].Text)
		bundle.RetrievedChunks = bundle.RetrievedChunks[:last]
		bundle.Partial = true
	}

	// Step 2: drop oldest recent turns down to the floor.
	floor := a.cfg.MinRecentTurns
	if floor < 0 {
		floor = 0
	}
	for used > budget && len(bundle.RecentTurns) > floor {
		oldest := bundle.RecentTurns[0]
		used -= a.estimator.Estimate(oldest.UserText) + a.estimator.Estimate(oldest.AssistantText)
		bundle.RecentTurns = bundle.RecentTurns[1:]
		bundle.Partial = true
	}

	// Step 3: truncate the rolling summary to SummaryTokenCap tokens.
	summaryCap := a.cfg.SummaryTokenCap
	if summaryCap <= 0 {
		summaryCap = 400
	}
	summaryTokens := a.estimator.Estimate(bundle.RollingSummary)
	if summaryTokens > summaryCap {
		used -= summaryTokens
		bundle.RollingSummary = a.truncateToTokens(bundle.RollingSummary, summaryCap)
		used += a.estimator.Estimate(bundle.RollingSummary)
		bundle.Partial = true
	}

	bundle.TokensUsed = used
}

// truncateToTokens trims text to approximately maxTokens, using the
// estimator's own character-per-token ratio so the truncation stays
// consistent with whichever estimator is configured.
func (a *ContextAssembler) truncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	total := a.estimator.Estimate(text)
	if total <= maxTokens {
		return text
	}
	approxChars := (len(text) * maxTokens) / total
	if approxChars >= len(text) {
		return text
	}
	if approxChars < 0 {
		approxChars = 0
	}
	return text[:approxChars]
}
