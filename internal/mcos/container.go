package mcos

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/fernbank/mcos/internal/platform/logger"
)

// Collaborators bundles the external dependencies MCOS needs injected —
// the host application owns the concrete implementations (see
// internal/platform/*adapter for production-shaped examples).
type Collaborators struct {
	Model               ModelAdapter
	Vector              VectorStore
	Profiles            ProfileDocStore
	Objects             ObjectStore
	Documents           DocumentCache // optional, may be nil
	ReconciliationCache  ReconciliationCache // optional, may be nil
	Meter               metric.Meter // optional; NewMetrics is skipped if nil
}

// Container wires all six components together and exposes the two
// operations a host application actually calls on every turn: RecordTurn
// and AssembleContext. It is the single entry point a caller needs.
type Container struct {
	Config       Config
	Log          *logger.Logger
	Sessions     *SessionStore
	Ledger       *UploadLedger
	Profiles     *ProfileStore
	Vector       *VectorMemory
	Assembler    *ContextAssembler
	Queue        *Queue
	Orchestrator *PersistenceOrchestrator
	Metrics      *Metrics
	Objects      ObjectStore
}

// New builds a fully-wired Container. It does not start the background
// worker pool — call Start for that once the host application is ready to
// begin processing. Neither New nor Start schedules the janitor.
func New(cfg Config, log *logger.Logger, collab Collaborators) (*Container, error) {
	var metrics *Metrics
	if collab.Meter != nil {
		m, err := NewMetrics(collab.Meter)
		if err != nil {
			return nil, NewError("New", KindInvalidInput, err)
		}
		metrics = m
	}

	sessions := NewSessionStore(cfg, log, metrics)
	ledger := NewUploadLedger(cfg, log, collab.Vector, collab.ReconciliationCache)
	vector := NewVectorMemory(cfg, log, collab.Vector, collab.Model, metrics)
	profiles := NewProfileStore(cfg, log, collab.Profiles, vector)
	assembler := NewContextAssembler(cfg, log, sessions, vector, profiles, collab.Model, collab.Documents, metrics)
	queue := NewQueue(cfg, log, metrics)
	orchestrator := NewPersistenceOrchestrator(cfg, log, sessions, ledger, profiles, vector, collab.Model, collab.Objects, queue)

	return &Container{
		Config:       cfg,
		Log:          log,
		Sessions:     sessions,
		Ledger:       ledger,
		Profiles:     profiles,
		Vector:       vector,
		Assembler:    assembler,
		Queue:        queue,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Objects:      collab.Objects,
	}, nil
}

// Start launches the background worker pool. The caller is responsible for
// also scheduling SessionStore.Sweep on an interval (see
// internal/platform/cronjanitor for a robfig/cron-based scheduler).
func (c *Container) Start(ctx context.Context) {
	c.Queue.Start(ctx)
}

// Close stops the worker pool, waiting for in-flight jobs to finish.
func (c *Container) Close() {
	c.Queue.Close()
}

// RecordTurn is the primary write path: append a turn to its chat session
// and schedule whatever background persistence work it triggers. Returns
// the assigned turn id.
func (c *Container) RecordTurn(ctx context.Context, userID, chatID, userText, assistantText string, artifacts []ArtifactUpload) (string, error) {
	return c.Orchestrator.RecordTurn(ctx, userID, chatID, userText, assistantText, artifacts)
}

// AssembleContext is the primary read path: build a bounded prompt context
// for the next turn in a chat.
func (c *Container) AssembleContext(ctx context.Context, req AssembleRequest) (*ContextBundle, error) {
	return c.Assembler.AssembleContext(ctx, req)
}

// EndChat flushes and closes out a chat, per PersistenceOrchestrator.EndChat.
func (c *Container) EndChat(ctx context.Context, userID, chatID string, force bool) error {
	return c.Orchestrator.EndChat(ctx, userID, chatID, force)
}

// SaveAll flushes every listed chat for a user, per
// PersistenceOrchestrator.SaveAll.
func (c *Container) SaveAll(ctx context.Context, userID string, chatIDs []string) error {
	return c.Orchestrator.SaveAll(ctx, userID, chatIDs)
}

// DeleteChat permanently removes a chat, per
// PersistenceOrchestrator.DeleteChat.
func (c *Container) DeleteChat(ctx context.Context, userID, chatID string) error {
	return c.Orchestrator.DeleteChat(ctx, userID, chatID)
}

// DeleteUser permanently removes a user, per
// PersistenceOrchestrator.DeleteUser.
func (c *Container) DeleteUser(ctx context.Context, userID string) error {
	return c.Orchestrator.DeleteUser(ctx, userID)
}
