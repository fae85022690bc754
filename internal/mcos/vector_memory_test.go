package mcos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fernbank/mcos/internal/mcos/fakes"
)

func TestVectorMemory_Upsert_EmbedsThenStores(t *testing.T) {
	vs := &fakes.VectorStore{}
	model := &fakes.ModelAdapter{}
	cfg := DefaultConfig()
	vm := NewVectorMemory(cfg, testLogger(t), vs, model, nil)

	records := []MemoryRecord{
		{ID: "r1", UserID: "u1", ChatID: "c1", Kind: KindConversation, Text: "hello"},
	}
	if err := vm.Upsert(context.Background(), records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if model.EmbedCalls != 1 {
		t.Fatalf("expected 1 embed call, got %d", model.EmbedCalls)
	}
	if vs.UpsertCalls != 1 {
		t.Fatalf("expected 1 store upsert call, got %d", vs.UpsertCalls)
	}
	if len(vs.Records) != 1 || len(vs.Records[0].Embedding) == 0 {
		t.Fatalf("expected stored record to carry an embedding")
	}
}

func TestVectorMemory_WithRetry_RetriesTransientThenSucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VectorRetryBase = time.Millisecond
	cfg.VectorRetryCap = 4 * time.Millisecond
	cfg.VectorRetryMaxAttempt = 5

	attempts := 0
	vs := &fakes.VectorStore{
		UpsertFunc: func(ctx context.Context, records []MemoryRecord) error {
			attempts++
			if attempts < 3 {
				return NewError("upsert", KindTransient, errors.New("temporary"))
			}
			return nil
		},
	}
	model := &fakes.ModelAdapter{}
	vm := NewVectorMemory(cfg, testLogger(t), vs, model, nil)

	err := vm.Upsert(context.Background(), []MemoryRecord{{ID: "r1", Text: "x"}})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestVectorMemory_WithRetry_GivesUpOnInvalidInput(t *testing.T) {
	cfg := DefaultConfig()
	attempts := 0
	vs := &fakes.VectorStore{
		UpsertFunc: func(ctx context.Context, records []MemoryRecord) error {
			attempts++
			return NewError("upsert", KindInvalidInput, errors.New("bad record"))
		},
	}
	model := &fakes.ModelAdapter{}
	vm := NewVectorMemory(cfg, testLogger(t), vs, model, nil)

	err := vm.Upsert(context.Background(), []MemoryRecord{{ID: "r1", Text: "x"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected no retries for non-transient error, got %d attempts", attempts)
	}
}

func TestVectorMemory_Query_AppliesTieBreakOrdering(t *testing.T) {
	vs := &fakes.VectorStore{
		QueryFunc: func(ctx context.Context, q ScopedQuery) ([]MemoryRecord, error) {
			return []MemoryRecord{
				{ID: "b", Kind: KindConversation, Seq: 1, Score: 0.9},
				{ID: "a", Kind: KindSummary, Seq: 1, Score: 0.9},
				{ID: "c", Kind: KindConversation, Seq: 2, Score: 0.9},
			}, nil
		},
	}
	vm := NewVectorMemory(DefaultConfig(), testLogger(t), vs, &fakes.ModelAdapter{}, nil)

	results, err := vm.Query(context.Background(), ScopedQuery{UserID: "u1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	// Same score: summary ranks first, then conversation by seq desc.
	if results[0].ID != "a" {
		t.Fatalf("expected summary record first, got %s", results[0].ID)
	}
	if results[1].ID != "c" || results[2].ID != "b" {
		t.Fatalf("expected conversation records ordered by seq desc, got %s, %s", results[1].ID, results[2].ID)
	}
}
