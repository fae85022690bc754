package mcos

import (
	"context"
	"testing"

	"github.com/fernbank/mcos/internal/mcos/fakes"
)

func newTestOrchestrator(t *testing.T, cfg Config) (*PersistenceOrchestrator, *SessionStore, *fakes.VectorStore, *Queue) {
	t.Helper()
	log := testLogger(t)
	sessions := NewSessionStore(cfg, log, nil)
	vs := &fakes.VectorStore{}
	ledger := NewUploadLedger(cfg, log, vs, nil)
	docs := fakes.NewProfileDocStore()
	model := &fakes.ModelAdapter{}
	vm := NewVectorMemory(cfg, log, vs, model, nil)
	profiles := NewProfileStore(cfg, log, docs, vm)
	objects := fakes.NewObjectStore()
	queue := NewQueue(cfg, log, nil)
	orch := NewPersistenceOrchestrator(cfg, log, sessions, ledger, profiles, vm, model, objects, queue)
	return orch, sessions, vs, queue
}

func TestOrchestrator_RecordTurn_AppendsAndSchedulesUpload(t *testing.T) {
	cfg := DefaultConfig()
	orch, sessions, _, queue := newTestOrchestrator(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	defer queue.Close()

	if _, err := orch.RecordTurn(context.Background(), "u1", "c1", "hello", "hi", nil); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}

	snap, ok := sessions.Snapshot("u1", "c1")
	if !ok || len(snap.RecentTurns) != 1 {
		t.Fatalf("expected turn appended to session")
	}
}

func TestOrchestrator_EndChat_FlushesUnuploadedTurns(t *testing.T) {
	cfg := DefaultConfig()
	orch, sessions, vs, _ := newTestOrchestrator(t, cfg)

	turn, err := sessions.AppendTurn("u1", "c1", "hello", "hi", nil)
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	if err := orch.EndChat(context.Background(), "u1", "c1", false); err != nil {
		t.Fatalf("EndChat: %v", err)
	}

	if vs.UpsertCalls != 1 {
		t.Fatalf("expected EndChat to flush one upsert, got %d", vs.UpsertCalls)
	}
	if len(vs.Records) != 2 {
		t.Fatalf("expected one record per turn half, got %d", len(vs.Records))
	}
	for _, r := range vs.Records {
		if r.ID != turn.ID+":user" && r.ID != turn.ID+":assistant" {
			t.Fatalf("expected flushed record ids to derive from the turn id, got %q", r.ID)
		}
	}
}

func TestOrchestrator_EndChat_IdempotentOnAlreadyUploadedTurns(t *testing.T) {
	cfg := DefaultConfig()
	orch, sessions, vs, _ := newTestOrchestrator(t, cfg)

	if _, err := sessions.AppendTurn("u1", "c1", "hello", "hi", nil); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	if err := orch.EndChat(context.Background(), "u1", "c1", false); err != nil {
		t.Fatalf("EndChat 1: %v", err)
	}
	if err := orch.EndChat(context.Background(), "u1", "c1", false); err != nil {
		t.Fatalf("EndChat 2: %v", err)
	}

	if vs.UpsertCalls != 1 {
		t.Fatalf("expected only 1 upsert across both EndChat calls (no duplicate upload), got %d", vs.UpsertCalls)
	}
}
