// Package fakes provides hand-written test doubles for MCOS's external
// collaborator interfaces, in the style of the corpus's own tests: plain
// structs with call counters and injectable functions, no mocking
// framework.
package fakes

import (
	"context"
	"sync"

	"github.com/fernbank/mcos/internal/mcos"
)

// ModelAdapter is a fake mcos.ModelAdapter.
type ModelAdapter struct {
	mu sync.Mutex

	EmbedFunc   func(ctx context.Context, texts []string) ([][]float32, error)
	EmbedCalls  int

	SummarizeFunc  func(ctx context.Context, existing string, turns []mcos.Turn) (string, error)
	SummarizeCalls int

	ExtractFunc  func(ctx context.Context, turn mcos.Turn) (map[string]mcos.FieldUpdate, error)
	ExtractCalls int

	ClassifyFunc  func(ctx context.Context, message string) (string, error)
	ClassifyCalls int
}

func (f *ModelAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.EmbedCalls++
	f.mu.Unlock()
	if f.EmbedFunc != nil {
		return f.EmbedFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *ModelAdapter) Summarize(ctx context.Context, existing string, turns []mcos.Turn) (string, error) {
	f.mu.Lock()
	f.SummarizeCalls++
	f.mu.Unlock()
	if f.SummarizeFunc != nil {
		return f.SummarizeFunc(ctx, existing, turns)
	}
	return existing + "+summary", nil
}

func (f *ModelAdapter) ExtractProfileFields(ctx context.Context, turn mcos.Turn) (map[string]mcos.FieldUpdate, error) {
	f.mu.Lock()
	f.ExtractCalls++
	f.mu.Unlock()
	if f.ExtractFunc != nil {
		return f.ExtractFunc(ctx, turn)
	}
	return nil, nil
}

func (f *ModelAdapter) ClassifyIntent(ctx context.Context, message string) (string, error) {
	f.mu.Lock()
	f.ClassifyCalls++
	f.mu.Unlock()
	if f.ClassifyFunc != nil {
		return f.ClassifyFunc(ctx, message)
	}
	return mcos.IntentNormal, nil
}

// VectorStore is a fake mcos.VectorStore backed by an in-memory slice.
type VectorStore struct {
	mu      sync.Mutex
	Records []mcos.MemoryRecord

	UpsertFunc func(ctx context.Context, records []mcos.MemoryRecord) error
	QueryFunc  func(ctx context.Context, q mcos.ScopedQuery) ([]mcos.MemoryRecord, error)
	DeleteFunc func(ctx context.Context, scope mcos.DeleteScope) error

	UpsertCalls int
	QueryCalls  int
	DeleteCalls int
}

func (f *VectorStore) Upsert(ctx context.Context, records []mcos.MemoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpsertCalls++
	if f.UpsertFunc != nil {
		return f.UpsertFunc(ctx, records)
	}
	f.Records = append(f.Records, records...)
	return nil
}

func (f *VectorStore) Query(ctx context.Context, q mcos.ScopedQuery) ([]mcos.MemoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QueryCalls++
	if f.QueryFunc != nil {
		return f.QueryFunc(ctx, q)
	}
	var out []mcos.MemoryRecord
	for _, r := range f.Records {
		if r.UserID != q.UserID {
			continue
		}
		if q.ChatID != "" && r.ChatID != q.ChatID {
			continue
		}
		out = append(out, r)
	}
	if q.TopK > 0 && len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}

func (f *VectorStore) DeleteByScope(ctx context.Context, scope mcos.DeleteScope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if f.DeleteFunc != nil {
		return f.DeleteFunc(ctx, scope)
	}
	var kept []mcos.MemoryRecord
	for _, r := range f.Records {
		if r.UserID != scope.UserID {
			kept = append(kept, r)
			continue
		}
		if scope.ChatID != "" && r.ChatID != scope.ChatID {
			kept = append(kept, r)
			continue
		}
		if scope.Kind != "" && r.Kind != scope.Kind {
			kept = append(kept, r)
			continue
		}
		// matches scope: drop it
	}
	f.Records = kept
	return nil
}

// ProfileDocStore is a fake mcos.ProfileDocStore backed by an in-memory map.
type ProfileDocStore struct {
	mu       sync.Mutex
	Profiles map[string]*mcos.UserProfile

	ReadCalls   int
	WriteCalls  int
	DeleteCalls int
}

func NewProfileDocStore() *ProfileDocStore {
	return &ProfileDocStore{Profiles: make(map[string]*mcos.UserProfile)}
}

func (f *ProfileDocStore) Read(ctx context.Context, userID string) (*mcos.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReadCalls++
	p, ok := f.Profiles[userID]
	if !ok {
		return nil, mcos.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *ProfileDocStore) Write(ctx context.Context, profile *mcos.UserProfile, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WriteCalls++
	existing, ok := f.Profiles[profile.UserID]
	if ok && existing.Version != expectedVersion {
		return mcos.NewError("Write", mcos.KindStaleWrite, mcos.ErrProfileNotFound)
	}
	cp := *profile
	f.Profiles[profile.UserID] = &cp
	return nil
}

func (f *ProfileDocStore) Delete(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	delete(f.Profiles, userID)
	return nil
}

// ObjectStore is a fake mcos.ObjectStore backed by an in-memory map.
type ObjectStore struct {
	mu      sync.Mutex
	Objects map[string][]byte

	PutCalls    int
	DeleteCalls int
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{Objects: make(map[string][]byte)}
}

func (f *ObjectStore) PutArtifact(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutCalls++
	f.Objects[key] = data
	return "mem://" + key, nil
}

func (f *ObjectStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	delete(f.Objects, key)
	return nil
}
