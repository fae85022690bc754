package mcos

import (
	"context"
	"testing"
	"time"

	"github.com/fernbank/mcos/internal/mcos/fakes"
)

func TestUploadLedger_ReconcilesFromVectorStoreOnColdStart(t *testing.T) {
	vs := &fakes.VectorStore{}
	vs.Records = []MemoryRecord{
		{ID: "t1", UserID: "u1", ChatID: "c1", Kind: KindConversation},
		{ID: "t2", UserID: "u1", ChatID: "c1", Kind: KindConversation},
	}

	cfg := DefaultConfig()
	l := NewUploadLedger(cfg, testLogger(t), vs, nil)

	unuploaded, err := l.Unuploaded(context.Background(), "u1", "c1", []string{"t1", "t2", "t3"})
	if err != nil {
		t.Fatalf("Unuploaded: %v", err)
	}
	if len(unuploaded) != 1 || unuploaded[0] != "t3" {
		t.Fatalf("expected only t3 unuploaded, got %v", unuploaded)
	}
	if vs.QueryCalls != 1 {
		t.Fatalf("expected exactly one reconciliation query, got %d", vs.QueryCalls)
	}

	// Second call should not reconcile again.
	if _, err := l.Unuploaded(context.Background(), "u1", "c1", []string{"t3"}); err != nil {
		t.Fatalf("Unuploaded (2nd): %v", err)
	}
	if vs.QueryCalls != 1 {
		t.Fatalf("expected reconciliation to run only once, got %d queries", vs.QueryCalls)
	}
}

func TestUploadLedger_MarkUploaded_UpdatesCooldown(t *testing.T) {
	vs := &fakes.VectorStore{}
	cfg := DefaultConfig()
	cfg.UploadCooldown = 50 * time.Millisecond
	l := NewUploadLedger(cfg, testLogger(t), vs, nil)

	if !l.CooldownElapsed("c1", time.Now()) {
		t.Fatalf("expected cooldown elapsed for chat with no prior upload")
	}

	l.MarkUploaded("c1", []string{"t1"})
	if l.CooldownElapsed("c1", time.Now()) {
		t.Fatalf("expected cooldown not yet elapsed immediately after upload")
	}
	if l.CooldownElapsed("c1", time.Now().Add(100*time.Millisecond)) == false {
		t.Fatalf("expected cooldown elapsed after waiting past UploadCooldown")
	}
}

type stubCache struct {
	saved map[string]map[string]struct{}
}

func (s *stubCache) Load(ctx context.Context, chatID string) (map[string]struct{}, bool, error) {
	v, ok := s.saved[chatID]
	return v, ok, nil
}

func (s *stubCache) Save(ctx context.Context, chatID string, ids map[string]struct{}) error {
	if s.saved == nil {
		s.saved = make(map[string]map[string]struct{})
	}
	s.saved[chatID] = ids
	return nil
}

func TestUploadLedger_UsesReconciliationCacheWhenPresent(t *testing.T) {
	vs := &fakes.VectorStore{}
	vs.Records = []MemoryRecord{{ID: "t1", UserID: "u1", ChatID: "c1", Kind: KindConversation}}
	cache := &stubCache{saved: map[string]map[string]struct{}{"c1": {"t1": {}, "t2": {}}}}

	cfg := DefaultConfig()
	l := NewUploadLedger(cfg, testLogger(t), vs, cache)

	unuploaded, err := l.Unuploaded(context.Background(), "u1", "c1", []string{"t1", "t2", "t3"})
	if err != nil {
		t.Fatalf("Unuploaded: %v", err)
	}
	if len(unuploaded) != 1 || unuploaded[0] != "t3" {
		t.Fatalf("expected only t3 unuploaded from cache-seeded state, got %v", unuploaded)
	}
	if vs.QueryCalls != 0 {
		t.Fatalf("expected cache hit to skip vector store query entirely, got %d queries", vs.QueryCalls)
	}
}
