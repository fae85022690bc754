package mcos

import (
	"context"
	"testing"

	"github.com/fernbank/mcos/internal/mcos/fakes"
)

func TestProfileStore_Merge_HigherConfidenceOverwrites(t *testing.T) {
	docs := fakes.NewProfileDocStore()
	p := NewProfileStore(DefaultConfig(), testLogger(t), docs, nil)
	ctx := context.Background()

	if _, err := p.Merge(ctx, "u1", "t1", "c1", map[string]FieldUpdate{
		"displayName": {Value: "Al", Confidence: 0.5},
	}); err != nil {
		t.Fatalf("Merge 1: %v", err)
	}

	prof, err := p.Merge(ctx, "u1", "t2", "c1", map[string]FieldUpdate{
		"displayName": {Value: "Alex", Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("Merge 2: %v", err)
	}
	if prof.DisplayName != "Alex" {
		t.Fatalf("expected higher-confidence update to win, got %q", prof.DisplayName)
	}
}

func TestProfileStore_Merge_LowerConfidenceIsDropped(t *testing.T) {
	docs := fakes.NewProfileDocStore()
	p := NewProfileStore(DefaultConfig(), testLogger(t), docs, nil)
	ctx := context.Background()

	if _, err := p.Merge(ctx, "u1", "t1", "c1", map[string]FieldUpdate{
		"displayName": {Value: "Alex", Confidence: 0.9},
	}); err != nil {
		t.Fatalf("Merge 1: %v", err)
	}

	prof, err := p.Merge(ctx, "u1", "t2", "c1", map[string]FieldUpdate{
		"displayName": {Value: "Al", Confidence: 0.3},
	})
	if err != nil {
		t.Fatalf("Merge 2: %v", err)
	}
	if prof.DisplayName != "Alex" {
		t.Fatalf("expected lower-confidence update to be dropped, got %q", prof.DisplayName)
	}
}

func TestProfileStore_Merge_InterestsCapEvictsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProfileInterestCap = 2
	docs := fakes.NewProfileDocStore()
	p := NewProfileStore(cfg, testLogger(t), docs, nil)
	ctx := context.Background()

	for _, interest := range []string{"chess", "hiking", "painting"} {
		if _, err := p.Merge(ctx, "u1", "t1", "c1", map[string]FieldUpdate{
			"interests": {Value: interest, Confidence: 0.8},
		}); err != nil {
			t.Fatalf("Merge(%s): %v", interest, err)
		}
	}

	prof, err := p.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(prof.Interests) != 2 {
		t.Fatalf("expected interests capped at 2, got %v", prof.Interests)
	}
	if prof.Interests[0] != "hiking" || prof.Interests[1] != "painting" {
		t.Fatalf("expected oldest interest evicted first, got %v", prof.Interests)
	}
}
