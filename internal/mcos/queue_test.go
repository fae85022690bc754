package mcos

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_ExecutesRegisteredHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerConcurrency = 1
	q := NewQueue(cfg, testLogger(t), nil)

	var ran int32
	q.RegisterHandler(JobSummarize, func(ctx context.Context, job Job) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Close()

	if err := q.Enqueue(context.Background(), Job{Type: JobSummarize, ChatID: "c1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&ran) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected handler to run once, ran=%d", ran)
	}
}

func TestQueue_RetriesTransientFailureThenDeadLetters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerConcurrency = 1
	q := NewQueue(cfg, testLogger(t), nil)

	var attempts int32
	q.RegisterHandler(JobVectorUpload, func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return NewError("handle", KindTransient, errors.New("still failing"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Close()

	if err := q.Enqueue(context.Background(), Job{Type: JobVectorUpload, ChatID: "c1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Backoff schedule is 500ms,1s,2s,4s,8s = 6 total attempts before
	// dead-letter; waiting for the first two retries is enough to prove
	// the retry path runs without waiting out the full schedule.
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&attempts) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&attempts) < 2 {
		t.Fatalf("expected at least 2 attempts (initial + 1 retry), got %d", attempts)
	}
}

func TestQueue_NonTransientFailureDeadLettersImmediately(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerConcurrency = 1
	q := NewQueue(cfg, testLogger(t), nil)

	var attempts int32
	q.RegisterHandler(JobProfileMerge, func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return NewError("handle", KindInvalidInput, errors.New("bad payload"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Close()

	if err := q.Enqueue(context.Background(), Job{Type: JobProfileMerge, ChatID: "c1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected exactly 1 attempt for non-transient error (no retry), got %d", attempts)
	}
}

func TestQueue_Enqueue_ReturnsErrQueueFullWhenAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 1
	cfg.WorkerConcurrency = 0 // no workers draining, so the channel fills up
	q := NewQueue(cfg, testLogger(t), nil)

	if err := q.Enqueue(context.Background(), Job{Type: JobSummarize}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	err := q.Enqueue(context.Background(), Job{Type: JobSummarize})
	if err == nil {
		t.Fatalf("expected second Enqueue to fail, queue is at capacity")
	}
	if !Is(err, KindTransient) {
		t.Fatalf("expected KindTransient wrapping ErrQueueFull, got %v", err)
	}
}
