package mcos

import "context"

// ModelAdapter is the external collaborator that turns text into embeddings
// and performs the small generative tasks MCOS itself needs (rolling
// summarization, profile-field extraction, intent classification). It does
// not generate the user-facing chat response; that lives outside MCOS.
type ModelAdapter interface {
	// Embed returns one embedding vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Summarize folds newTurns into the existing rolling summary and
	// returns the updated summary text.
	Summarize(ctx context.Context, existingSummary string, newTurns []Turn) (string, error)
	// ExtractProfileFields inspects a turn and returns candidate profile
	// field updates with a numeric confidence in [0,1] for each.
	ExtractProfileFields(ctx context.Context, turn Turn) (map[string]FieldUpdate, error)
	// ClassifyIntent tags a user message with one of the Intent* constants,
	// used by ContextAssembler to decide whether long-term retrieval should
	// run for a turn that doesn't contain a recall trigger phrase.
	ClassifyIntent(ctx context.Context, message string) (string, error)
}

// FieldUpdate is a candidate value for a single UserProfile field, as
// proposed by ModelAdapter.ExtractProfileFields.
type FieldUpdate struct {
	Value      string
	Confidence float64
}

// VectorStore is the external collaborator backing long-term memory. MCOS
// depends only on this contract, never on a specific vector database.
type VectorStore interface {
	Upsert(ctx context.Context, records []MemoryRecord) error
	Query(ctx context.Context, q ScopedQuery) ([]MemoryRecord, error)
	DeleteByScope(ctx context.Context, scope DeleteScope) error
}

// ProfileDocStore is the external collaborator persisting UserProfile
// documents, with optimistic concurrency via Version.
type ProfileDocStore interface {
	Read(ctx context.Context, userID string) (*UserProfile, error)
	Write(ctx context.Context, profile *UserProfile, expectedVersion int64) error
	Delete(ctx context.Context, userID string) error
}

// ObjectStore is the external collaborator persisting large artifacts
// (e.g. full transcripts, exported sessions, image/upload payloads)
// outside the hot path.
type ObjectStore interface {
	PutArtifact(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// DocumentCache is an optional external collaborator for cached document
// chunks used during retrieval augmentation (assembly step 6). A nil
// DocumentCache means ContextAssembler never attempts document-chunk
// retrieval, even if a caller sets AssembleRequest.DocumentID.
type DocumentCache interface {
	TopChunks(ctx context.Context, documentID, query string, k int) ([]Chunk, error)
}
