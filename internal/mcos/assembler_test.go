package mcos

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fernbank/mcos/internal/mcos/fakes"
)

func newTestAssembler(t *testing.T, cfg Config) (*ContextAssembler, *SessionStore, *fakes.VectorStore, *fakes.ProfileDocStore) {
	t.Helper()
	log := testLogger(t)
	sessions := NewSessionStore(cfg, log, nil)
	vs := &fakes.VectorStore{}
	docs := fakes.NewProfileDocStore()
	model := &fakes.ModelAdapter{}
	vm := NewVectorMemory(cfg, log, vs, model, nil)
	profiles := NewProfileStore(cfg, log, docs, vm)
	a := NewContextAssembler(cfg, log, sessions, vm, profiles, model, nil, nil)
	return a, sessions, vs, docs
}

func TestAssembleContext_SkipsRetrievalWhenNotTriggered(t *testing.T) {
	cfg := DefaultConfig()
	a, sessions, _, _ := newTestAssembler(t, cfg)
	if _, err := sessions.AppendTurn("u1", "c1", "hi", "hi there", nil); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if _, err := sessions.AppendTurn("u1", "c1", "hello there", "hello yourself", nil); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	bundle, err := a.AssembleContext(context.Background(), AssembleRequest{UserID: "u1", ChatID: "c1", QueryText: "ok"})
	if err != nil {
		t.Fatalf("AssembleContext: %v", err)
	}
	if bundle.RetrievalReason != ReasonSkipped {
		t.Fatalf("expected retrieval skipped, got %q", bundle.RetrievalReason)
	}
}

func TestAssembleContext_RecallTriggerAlwaysRetrieves(t *testing.T) {
	cfg := DefaultConfig()
	a, _, vs, _ := newTestAssembler(t, cfg)
	vs.Records = []MemoryRecord{{ID: "m1", UserID: "u1", ChatID: "c1", Kind: KindSummary, Text: "past context"}}

	bundle, err := a.AssembleContext(context.Background(), AssembleRequest{UserID: "u1", ChatID: "c1", QueryText: "ok", RecallTrigger: true})
	if err != nil {
		t.Fatalf("AssembleContext: %v", err)
	}
	if bundle.RetrievalReason != ReasonRecallPhrase {
		t.Fatalf("expected recall_trigger_phrase reason, got %q", bundle.RetrievalReason)
	}
	if len(bundle.RetrievedChunks) != 1 {
		t.Fatalf("expected 1 retrieved chunk, got %d", len(bundle.RetrievedChunks))
	}
}

func TestAssembleContext_RecallPhraseInQueryTriggersRetrieval(t *testing.T) {
	cfg := DefaultConfig()
	a, _, vs, _ := newTestAssembler(t, cfg)
	vs.Records = []MemoryRecord{{ID: "m1", UserID: "u1", ChatID: "c1", Kind: KindSummary, Text: "past context"}}

	bundle, err := a.AssembleContext(context.Background(), AssembleRequest{UserID: "u1", ChatID: "c1", QueryText: "remember what I told you?"})
	if err != nil {
		t.Fatalf("AssembleContext: %v", err)
	}
	if bundle.RetrievalReason != ReasonRecallPhrase {
		t.Fatalf("expected recall_trigger_phrase reason, got %q", bundle.RetrievalReason)
	}
}

func TestAssembleContext_BudgetDropsRetrievedChunksFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenBudget = 10 // tiny budget to force trimming
	cfg.MinRecentTurns = 1
	a, sessions, vs, _ := newTestAssembler(t, cfg)

	if _, err := sessions.AppendTurn("u1", "c1", strings.Repeat("x", 40), "", nil); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	vs.Records = []MemoryRecord{
		{ID: "m1", UserID: "u1", ChatID: "c1", Kind: KindConversation, Text: strings.Repeat("y", 80)},
	}

	bundle, err := a.AssembleContext(context.Background(), AssembleRequest{UserID: "u1", ChatID: "c1", QueryText: "ok", RecallTrigger: true})
	if err != nil {
		t.Fatalf("AssembleContext: %v", err)
	}
	if len(bundle.RetrievedChunks) != 0 {
		t.Fatalf("expected retrieved chunks dropped first under tight budget, got %d remaining", len(bundle.RetrievedChunks))
	}
	if !bundle.Partial {
		t.Fatalf("expected Partial=true once content was trimmed")
	}
	if len(bundle.RecentTurns) < cfg.MinRecentTurns {
		t.Fatalf("expected at least MinRecentTurns turns retained, got %d", len(bundle.RecentTurns))
	}
}

func TestAssembleContext_DeadlineExceededReturnsPartial(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AssembleDeadline = time.Nanosecond
	a, _, _, _ := newTestAssembler(t, cfg)

	bundle, err := a.AssembleContext(context.Background(), AssembleRequest{UserID: "u1", ChatID: "c1", QueryText: "ok"})
	if err != nil {
		t.Fatalf("AssembleContext: %v", err)
	}
	if !bundle.Partial {
		t.Fatalf("expected Partial=true when deadline is exceeded")
	}
}

func TestAssembleContext_RejectsEmptyQueryText(t *testing.T) {
	cfg := DefaultConfig()
	a, _, _, _ := newTestAssembler(t, cfg)

	_, err := a.AssembleContext(context.Background(), AssembleRequest{UserID: "u1", ChatID: "c1"})
	if err == nil {
		t.Fatalf("expected error for empty queryText")
	}
	if !Is(err, KindInvalidInput) {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
}
