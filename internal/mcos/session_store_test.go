package mcos

import (
	"context"
	"testing"
	"time"

	"github.com/fernbank/mcos/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestSessionStore_AppendTurn_EvictsOldestBeyondCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionTurnCap = 3
	s := NewSessionStore(cfg, testLogger(t), nil)

	for i := 0; i < 5; i++ {
		if _, err := s.AppendTurn("u1", "c1", "hello", "hi", nil); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	snap, ok := s.Snapshot("u1", "c1")
	if !ok {
		t.Fatalf("expected session to exist")
	}
	if len(snap.RecentTurns) != 3 {
		t.Fatalf("expected 3 turns after cap eviction, got %d", len(snap.RecentTurns))
	}
	if snap.RecentTurns[0].Seq != 2 {
		t.Fatalf("expected oldest-first eviction, first remaining seq = %d, want 2", snap.RecentTurns[0].Seq)
	}
}

func TestSessionStore_AppendTurn_RejectsWhenDraining(t *testing.T) {
	cfg := DefaultConfig()
	s := NewSessionStore(cfg, testLogger(t), nil)
	s.GetOrCreate("u1", "c1")
	s.MarkDraining("u1", "c1")

	_, err := s.AppendTurn("u1", "c1", "hello", "", nil)
	if err == nil {
		t.Fatalf("expected error appending to draining session")
	}
	if !Is(err, KindChatDraining) {
		t.Fatalf("expected KindChatDraining, got %v", err)
	}
}

func TestSessionStore_Sweep_DrainsAndEvictsIdleSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionTTL = time.Minute
	s := NewSessionStore(cfg, testLogger(t), nil)
	e := s.GetOrCreate("u1", "c1")
	e.mu.Lock()
	e.session.LastActivityAt = time.Now().Add(-2 * time.Minute)
	e.mu.Unlock()

	var drained bool
	s.SetDrainFunc(func(ctx context.Context, userID, chatID string, force bool) error {
		drained = true
		if !force {
			t.Fatalf("expected forced drain from janitor sweep")
		}
		return nil
	})

	s.Sweep(context.Background(), time.Now())

	if !drained {
		t.Fatalf("expected drain to be invoked")
	}
	if _, ok := s.Get("u1", "c1"); ok {
		t.Fatalf("expected session to be evicted after sweep")
	}
}

func TestSessionStore_UpdateSummary_NeverRegresses(t *testing.T) {
	cfg := DefaultConfig()
	s := NewSessionStore(cfg, testLogger(t), nil)
	s.GetOrCreate("u1", "c1")

	s.UpdateSummary("u1", "c1", "summary A", 10)
	s.UpdateSummary("u1", "c1", "summary B (stale)", 5)

	snap, _ := s.Snapshot("u1", "c1")
	if snap.RollingSummary != "summary A" {
		t.Fatalf("expected summary to not regress, got %q", snap.RollingSummary)
	}
	if snap.CoveredThroughSeq != 10 {
		t.Fatalf("expected coveredThroughSeq to remain 10, got %d", snap.CoveredThroughSeq)
	}
}
