package mcos

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/fernbank/mcos/internal/platform/ctxutil"
	"github.com/fernbank/mcos/internal/platform/logger"
)

// JobType enumerates the background work PersistenceOrchestrator schedules.
type JobType string

const (
	JobSummarize   JobType = "summarize"
	JobVectorUpload JobType = "vector_upload"
	JobProfileMerge JobType = "profile_merge"
)

// Job is one unit of background work. Payload is job-type specific: a
// profile-merge job carries the JSON-encoded Turn (see encodeTurn and
// decodeTurn); summarize and vector-upload jobs carry none.
type Job struct {
	ID        string
	Type      JobType
	UserID    string
	ChatID    string
	Payload   []byte
	Attempt   int
	RunAt     time.Time
	CreatedAt time.Time

	// TraceID carries the originating request's trace id (if any) across
	// the goroutine boundary so a worker's logs can be correlated back to
	// the RecordTurn call that scheduled the job.
	TraceID string
}

// JobHandler executes one job, returning an error classified per the
// specification's error taxonomy: Transient errors are retried per the
// backoff schedule, anything else is treated as terminal immediately.
type JobHandler func(ctx context.Context, job Job) error

var backoffSchedule = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

// Queue is a bounded, in-process FIFO job queue consumed by a fixed pool
// of worker goroutines, adapted from a database-claim worker loop into a
// channel-based one: here "claiming" a job is simply a channel receive, no
// lease is required since there is only one process.
type Queue struct {
	cfg      Config
	log      *logger.Logger
	metrics  *Metrics
	handlers map[JobType]JobHandler

	ch        chan Job
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func NewQueue(cfg Config, log *logger.Logger, metrics *Metrics) *Queue {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{
		cfg:      cfg,
		log:      log.With("component", "job_queue"),
		metrics:  metrics,
		handlers: make(map[JobType]JobHandler),
		ch:       make(chan Job, capacity),
		closed:   make(chan struct{}),
	}
}

// RegisterHandler wires the function that executes jobs of a given type.
func (q *Queue) RegisterHandler(t JobType, h JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = h
}

// Start spawns WorkerConcurrency worker goroutines, each consuming the
// queue until ctx is cancelled or Close is called.
func (q *Queue) Start(ctx context.Context) {
	n := q.cfg.WorkerConcurrency
	if n <= 0 {
		n = 4
	}
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.runLoop(ctx, i)
	}
}

// Close signals the workers to stop and waits for them to return; a job a
// worker is already executing runs to completion. Enqueue does not check
// for Close, and jobs still buffered in the channel are not run.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
	q.wg.Wait()
}

// Enqueue submits a job for background execution. The call never blocks:
// if the channel is at QueueCapacity, it returns a KindTransient
// ErrQueueFull immediately so the caller (RecordTurn) can decide whether to
// shed load rather than stall the request path.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if job.ID == "" {
		job.ID = xid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.RunAt.IsZero() {
		job.RunAt = job.CreatedAt
	}
	if td := ctxutil.GetTraceData(ctx); td != nil {
		if job.TraceID == "" {
			job.TraceID = td.TraceID
		}
		if job.UserID == "" {
			job.UserID = td.UserID
		}
		if job.ChatID == "" {
			job.ChatID = td.ChatID
		}
	}

	select {
	case q.ch <- job:
		q.metrics.IncJobEnqueued(ctx, string(job.Type))
		return nil
	default:
		return NewError("Enqueue", KindTransient, ErrQueueFull)
	}
}

// Depth returns the current number of jobs waiting in the channel.
func (q *Queue) Depth() int { return len(q.ch) }

// HighWater reports whether the queue is at or above its configured
// backpressure threshold.
func (q *Queue) HighWater() bool {
	hw := q.cfg.QueueHighWater
	if hw <= 0 {
		return false
	}
	return q.Depth() >= hw
}

func (q *Queue) runLoop(ctx context.Context, workerNum int) {
	defer q.wg.Done()
	log := q.log.With("worker", workerNum)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closed:
			return
		case job := <-q.ch:
			if job.RunAt.After(time.Now()) {
				wait := time.Until(job.RunAt)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				case <-q.closed:
					return
				}
			}
			q.execute(ctx, log, job)
		}
	}
}

func (q *Queue) execute(ctx context.Context, log *logger.Logger, job Job) {
	q.mu.Lock()
	h, ok := q.handlers[job.Type]
	q.mu.Unlock()
	if !ok {
		log.Error("job: no handler registered", "jobId", job.ID, "type", job.Type)
		return
	}

	if job.TraceID != "" || job.UserID != "" || job.ChatID != "" {
		ctx = ctxutil.WithTraceData(ctx, &ctxutil.TraceData{TraceID: job.TraceID, UserID: job.UserID, ChatID: job.ChatID})
		if job.TraceID != "" {
			log = log.With("traceId", job.TraceID)
		}
	}

	stopWatchdog := q.watchStaleRunning(log, job)
	err := q.runWithRecover(ctx, h, job)
	stopWatchdog()

	if err == nil {
		q.metrics.IncJobCompleted(ctx, string(job.Type))
		log.Debug("job: completed", "jobId", job.ID, "type", job.Type, "chatId", job.ChatID)
		return
	}

	if !Is(err, KindTransient) {
		q.deadLetter(ctx, log, job, err)
		return
	}

	job.Attempt++
	maxAttempt := q.cfg.JobRetryMaxAttempt
	if maxAttempt <= 0 {
		maxAttempt = len(backoffSchedule) + 1
	}
	if job.Attempt >= maxAttempt {
		q.deadLetter(ctx, log, job, err)
		return
	}

	delayIdx := job.Attempt - 1
	if delayIdx >= len(backoffSchedule) {
		delayIdx = len(backoffSchedule) - 1
	}
	delay := backoffSchedule[delayIdx]
	job.RunAt = time.Now().Add(delay)
	log.Warn("job: transient failure, re-enqueueing", "jobId", job.ID, "type", job.Type, "attempt", job.Attempt, "delay", delay, "error", err)

	select {
	case q.ch <- job:
	default:
		q.deadLetter(ctx, log, job, fmt.Errorf("queue full on retry re-enqueue: %w", err))
	}
}

// watchStaleRunning logs a warning if a job is still executing after
// cfg.JobStaleRunning. The in-process channel queue has no DB-claim row to
// reclaim the way the teacher's worker did, so there is nothing to "steal"
// here — this only gives an operator visibility into a handler that is
// hanging (e.g. on a stuck network call) well past the expected duration.
func (q *Queue) watchStaleRunning(log *logger.Logger, job Job) (stop func()) {
	if q.cfg.JobStaleRunning <= 0 {
		return func() {}
	}
	timer := time.AfterFunc(q.cfg.JobStaleRunning, func() {
		log.Warn("job: still running past stale threshold", "jobId", job.ID, "type", job.Type, "chatId", job.ChatID, "staleAfter", q.cfg.JobStaleRunning)
	})
	return func() { timer.Stop() }
}

func (q *Queue) runWithRecover(ctx context.Context, h JobHandler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError("execute", KindTerminal, fmt.Errorf("job panic: %v", r))
		}
	}()
	return h(ctx, job)
}

func (q *Queue) deadLetter(ctx context.Context, log *logger.Logger, job Job, cause error) {
	q.metrics.IncJobDeadlettered(ctx, string(job.Type))
	log.Error("job: dead-lettered", "jobId", job.ID, "type", job.Type, "chatId", job.ChatID, "attempt", job.Attempt, "error", cause)
}
