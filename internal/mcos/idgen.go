package mcos

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewTurnID computes the deterministic, content-addressed turn id: a
// truncated hex SHA-256 of the pipe-joined identity fields. Deterministic
// ids let the ledger and vector store dedupe the same turn without a
// round-trip.
func NewTurnID(userID, chatID string, seq int64, createdAt time.Time) string {
	raw := fmt.Sprintf("%s|%s|%d|%d", userID, chatID, seq, createdAt.UnixNano())
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:32]
}

// NewMemoryRecordID returns a fresh random id for a vector-store record.
func NewMemoryRecordID() string {
	return uuid.NewString()
}

// NewArtifactID returns a fresh random id for an artifact pointer.
func NewArtifactID() string {
	return uuid.NewString()
}
