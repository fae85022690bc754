package mcos

import "time"

// Artifact is a pointer to a large payload (an image, an export, an
// attachment) recorded alongside a turn but stored out-of-band via
// ObjectStore rather than inline in C1/C4.
type Artifact struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	URI       string    `json:"uri"`
	CreatedAt time.Time `json:"createdAt"`
}

// Turn is a single user/assistant exchange recorded within a chat: one
// user message and the assistant's reply to it, carried together so C1
// never has to reassemble a pair from two independent half-records.
type Turn struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	ChatID         string     `json:"chatId"`
	Seq            int64      `json:"seq"`
	UserText       string     `json:"userText"`
	AssistantText  string     `json:"assistantText"`
	Artifacts      []Artifact `json:"artifacts,omitempty"`
	DerivedSummary *string    `json:"derivedSummary,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// ChatSession holds the in-memory recent-turn window and rolling summary
// for one (userId, chatId) pair.
type ChatSession struct {
	UserID            string
	ChatID            string
	RecentTurns       []Turn
	RollingSummary    string
	CoveredThroughSeq int64
	// NextSeq is the session-scoped monotonic counter C1 assigns turns
	// from. It only ever grows, independent of RecentTurns shrinking as
	// turns are evicted past SessionTurnCap.
	NextSeq        int64
	LastActivityAt time.Time
	Draining       bool
}

// FieldProvenance records which turn most recently set a profile field and
// with what confidence, so later overwrites can be compared monotonically.
type FieldProvenance struct {
	TurnID     string  `json:"turnId"`
	ChatID     string  `json:"chatId"`
	Confidence float64 `json:"confidence"`
}

// UserProfile is the durable, cross-chat summary of what is known about a
// user, with per-field provenance for the monotonic-confidence overwrite
// rule.
type UserProfile struct {
	UserID          string                     `json:"userId"`
	DisplayName     string                     `json:"displayName,omitempty"`
	Interests       []string                   `json:"interests,omitempty"`
	Attributes      map[string]string          `json:"attributes,omitempty"`
	FieldProvenance map[string]FieldProvenance `json:"fieldProvenance,omitempty"`
	UpdatedAt       time.Time                  `json:"updatedAt"`
	Version         int64                      `json:"version"`
}

// MemoryRecordKind distinguishes the three kinds of vector-store entries.
type MemoryRecordKind string

const (
	KindConversation MemoryRecordKind = "conversation"
	KindSummary      MemoryRecordKind = "summary"
	KindProfile      MemoryRecordKind = "profile"
)

// rank orders kinds for the tie-break comparator used when merging
// retrieval results: summaries first, then conversation turns, then profile
// facts.
func (k MemoryRecordKind) rank() int {
	switch k {
	case KindSummary:
		return 0
	case KindConversation:
		return 1
	case KindProfile:
		return 2
	default:
		return 3
	}
}

// MemoryRecord is the unit stored in and retrieved from the vector store.
type MemoryRecord struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	ChatID    string           `json:"chatId,omitempty"`
	Kind      MemoryRecordKind `json:"kind"`
	Seq       int64            `json:"seq"`
	Text      string           `json:"text"`
	Embedding []float32        `json:"-"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	Score     float64          `json:"score,omitempty"`
}

// ScopedQuery narrows a vector-store query to a tenant-isolated scope.
// ChatID empty means wholeUser scope; Vector, if already computed, is used
// as-is, otherwise VectorMemory.Query embeds QueryText itself.
type ScopedQuery struct {
	UserID    string
	ChatID    string // optional: empty means "any chat for this user"
	Kinds     []MemoryRecordKind
	TopK      int
	QueryText string
	Vector    []float32
	MinScore  float64
}

// DeleteScope narrows a VectorStore deletion to a tenant-isolated scope: a
// whole user, one chat within a user, or one record kind within a user
// (e.g. wiping only the profile embedding on account deletion).
type DeleteScope struct {
	UserID string
	ChatID string           // optional: empty means "every chat for this user"
	Kind   MemoryRecordKind // optional: empty means "every kind"
}

// Chunk is a single retrievable slice of a source document, returned by
// DocumentCache.TopChunks for assembly step 6.
type Chunk struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"documentId"`
	Text       string  `json:"text"`
	Score      float64 `json:"score,omitempty"`
}

// LedgerEntry is the per-chat bookkeeping state tracked by the UploadLedger.
type LedgerEntry struct {
	ChatID          string
	UploadedTurnIDs map[string]struct{}
	LastUploadAt    time.Time
	LastSyncedAt    time.Time
	Reconciled      bool
}

// ContextBundle is the assembled prompt context handed back to the caller.
type ContextBundle struct {
	RecentTurns      []Turn
	RollingSummary   string
	RetrievedChunks  []MemoryRecord
	DocumentChunks   []Chunk
	ProfileFacts     *UserProfile
	TokensUsed       int
	TokenBudget      int
	Partial          bool
	Degraded         bool
	DegradedSections []DegradedSection
	RetrievalReason  string
}

// DegradedSection records a single bundle section that could not be fully
// populated, and why.
type DegradedSection struct {
	Section string
	Reason  string
}

// Retrieval reasons, logged verbatim so they are directly greppable.
const (
	ReasonLocalTierThin    = "local_tier_thin"
	ReasonIntentClassifier = "intent_classifier"
	ReasonRecallPhrase     = "recall_trigger_phrase"
	ReasonSkipped          = "skipped"
)

// Intent tags returned by ModelAdapter.ClassifyIntent.
const (
	IntentNormal         = "normal"
	IntentReferencesPast = "references_past"
	IntentImageRequest   = "image_request"
	IntentDocumentQuery  = "document_query"
)
