package mcos

import (
	"os"
	"time"

	"github.com/fernbank/mcos/internal/platform/envutil"
	"github.com/fernbank/mcos/internal/platform/logger"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables MCOS reads. It has no summary-trigger or
// embedding-dimension setting: a summarize job is triggered by
// SessionTurnCap, and the embedding size is whatever ModelAdapter.Embed
// returns. All fields have sane defaults; every one can be
// overridden by environment variable, and optionally by a YAML file for
// operators who prefer file-based config.
type Config struct {
	SessionTurnCap       int           `yaml:"sessionTurnCap"`
	MaxSessions          int           `yaml:"maxSessions"`
	SessionTTL           time.Duration `yaml:"sessionTTL"`
	JanitorInterval      time.Duration `yaml:"janitorInterval"`
	UploadCooldown       time.Duration `yaml:"uploadCooldown"`
	ReconcileTopK        int           `yaml:"reconcileTopK"`
	ProfileInterestCap   int           `yaml:"profileInterestCap"`
	EmbedConcurrency     int           `yaml:"embedConcurrency"`
	FlushConcurrency     int           `yaml:"flushConcurrency"`
	VectorRetryBase      time.Duration `yaml:"vectorRetryBase"`
	VectorRetryCap       time.Duration `yaml:"vectorRetryCap"`
	VectorRetryMaxAttempt int          `yaml:"vectorRetryMaxAttempts"`
	AssembleDeadline     time.Duration `yaml:"assembleDeadline"`
	TokenBudget          int           `yaml:"tokenBudget"`
	SummaryTokenCap      int           `yaml:"summaryTokenCap"`
	MinRecentTurns       int           `yaml:"minRecentTurns"`
	RetrievalTopK        int           `yaml:"retrievalTopK"`
	RetrievalMinScore    float64       `yaml:"retrievalMinScore"`
	QueueCapacity        int           `yaml:"queueCapacity"`
	QueueHighWater       int           `yaml:"queueHighWater"`
	WorkerConcurrency    int           `yaml:"workerConcurrency"`
	JobRetryMaxAttempt   int           `yaml:"jobRetryMaxAttempts"`
	JobStaleRunning      time.Duration `yaml:"jobStaleRunning"`
	TokenEstimator       string        `yaml:"tokenEstimator"` // "heuristic" | "tiktoken"
	LogMode              string        `yaml:"logMode"`
}

// DefaultConfig returns the specification's documented defaults, except
// QueueHighWater, which is 800 so that it stays below the 1000-job
// QueueCapacity.
func DefaultConfig() Config {
	return Config{
		SessionTurnCap:        200,
		MaxSessions:           50000,
		SessionTTL:            24 * time.Hour,
		JanitorInterval:       time.Minute,
		UploadCooldown:        60 * time.Second,
		ReconcileTopK:         10000,
		ProfileInterestCap:    50,
		EmbedConcurrency:      8,
		FlushConcurrency:      4,
		VectorRetryBase:       500 * time.Millisecond,
		VectorRetryCap:        4 * time.Second,
		VectorRetryMaxAttempt: 5,
		AssembleDeadline:      3 * time.Second,
		TokenBudget:           6000,
		SummaryTokenCap:       400,
		MinRecentTurns:        2,
		RetrievalTopK:         10,
		RetrievalMinScore:     0.5,
		QueueCapacity:         1000,
		QueueHighWater:        800,
		WorkerConcurrency:     4,
		JobRetryMaxAttempt:    6,
		JobStaleRunning:       30 * time.Minute,
		TokenEstimator:        "heuristic",
		LogMode:               "development",
	}
}

// LoadConfig builds a Config from defaults overridden first by an optional
// YAML file (if configPath is non-empty and exists) and then by environment
// variables, then logs a few of the resolved values at debug level — mirroring the
// teacher's LoadConfig(log) convention.
func LoadConfig(configPath string, log *logger.Logger) Config {
	cfg := DefaultConfig()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				log.Warn("config: failed to parse yaml override, ignoring", "path", configPath, "error", err)
			} else {
				log.Debug("config: loaded yaml override", "path", configPath)
			}
		}
	}

	cfg.SessionTurnCap = envutil.Int("MCOS_SESSION_TURN_CAP", cfg.SessionTurnCap)
	cfg.MaxSessions = envutil.Int("MCOS_MAX_SESSIONS", cfg.MaxSessions)
	cfg.SessionTTL = envutil.Duration("MCOS_SESSION_TTL", cfg.SessionTTL)
	cfg.JanitorInterval = envutil.Duration("MCOS_JANITOR_INTERVAL", cfg.JanitorInterval)
	cfg.UploadCooldown = envutil.Duration("MCOS_UPLOAD_COOLDOWN", cfg.UploadCooldown)
	cfg.ReconcileTopK = envutil.Int("MCOS_RECONCILE_TOPK", cfg.ReconcileTopK)
	cfg.ProfileInterestCap = envutil.Int("MCOS_PROFILE_INTEREST_CAP", cfg.ProfileInterestCap)
	cfg.EmbedConcurrency = envutil.Int("MCOS_EMBED_CONCURRENCY", cfg.EmbedConcurrency)
	cfg.FlushConcurrency = envutil.Int("MCOS_FLUSH_CONCURRENCY", cfg.FlushConcurrency)
	cfg.VectorRetryBase = envutil.Duration("MCOS_VECTOR_RETRY_BASE", cfg.VectorRetryBase)
	cfg.VectorRetryCap = envutil.Duration("MCOS_VECTOR_RETRY_CAP", cfg.VectorRetryCap)
	cfg.VectorRetryMaxAttempt = envutil.Int("MCOS_VECTOR_RETRY_MAX_ATTEMPTS", cfg.VectorRetryMaxAttempt)
	cfg.AssembleDeadline = envutil.Duration("MCOS_ASSEMBLE_DEADLINE", cfg.AssembleDeadline)
	cfg.TokenBudget = envutil.Int("MCOS_TOKEN_BUDGET", cfg.TokenBudget)
	cfg.SummaryTokenCap = envutil.Int("MCOS_SUMMARY_TOKEN_CAP", cfg.SummaryTokenCap)
	cfg.MinRecentTurns = envutil.Int("MCOS_MIN_RECENT_TURNS", cfg.MinRecentTurns)
	cfg.RetrievalTopK = envutil.Int("MCOS_RETRIEVAL_TOPK", cfg.RetrievalTopK)
	cfg.RetrievalMinScore = envutil.Float("MCOS_RETRIEVAL_MIN_SCORE", cfg.RetrievalMinScore)
	cfg.QueueCapacity = envutil.Int("MCOS_QUEUE_CAPACITY", cfg.QueueCapacity)
	cfg.QueueHighWater = envutil.Int("MCOS_QUEUE_HIGH_WATER", cfg.QueueHighWater)
	cfg.WorkerConcurrency = envutil.Int("MCOS_WORKER_CONCURRENCY", cfg.WorkerConcurrency)
	cfg.JobRetryMaxAttempt = envutil.Int("MCOS_JOB_RETRY_MAX_ATTEMPTS", cfg.JobRetryMaxAttempt)
	cfg.JobStaleRunning = envutil.Duration("MCOS_JOB_STALE_RUNNING", cfg.JobStaleRunning)
	cfg.TokenEstimator = envutil.String("MCOS_TOKEN_ESTIMATOR", cfg.TokenEstimator)
	cfg.LogMode = envutil.String("MCOS_LOG_MODE", cfg.LogMode)

	log.Debug("config: resolved",
		"sessionTurnCap", cfg.SessionTurnCap,
		"sessionTTL", cfg.SessionTTL,
		"tokenBudget", cfg.TokenBudget,
		"tokenEstimator", cfg.TokenEstimator,
		"workerConcurrency", cfg.WorkerConcurrency,
	)

	return cfg
}
