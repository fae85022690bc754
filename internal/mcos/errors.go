package mcos

import (
	"errors"
	"fmt"
)

// Kind classifies an MCOS error into the closed taxonomy callers branch on.
type Kind string

const (
	// KindInvalidInput means the caller supplied a malformed or
	// out-of-contract argument; retrying with the same input never helps.
	KindInvalidInput Kind = "invalid_input"
	// KindChatDraining means the target chat is being evicted/ended and no
	// longer accepts new turns.
	KindChatDraining Kind = "chat_draining"
	// KindTransient means the failure is expected to clear on its own
	// (timeout, connection reset, rate limit) and is safe to retry with
	// backoff.
	KindTransient Kind = "transient"
	// KindStaleWrite means an optimistic-concurrency check failed; the
	// caller should re-read and retry, not blindly resubmit.
	KindStaleWrite Kind = "stale_write"
	// KindTerminal means retries are exhausted or the failure is
	// unrecoverable; the work is dead-lettered.
	KindTerminal Kind = "terminal"
	// KindDegraded is not a failure: it signals a caller that a result is
	// usable but incomplete (e.g. a context bundle missing retrieved
	// chunks because the vector store was unreachable).
	KindDegraded Kind = "degraded"
)

// Error is the concrete error type returned by MCOS components. It wraps an
// underlying cause and tags it with a Kind so callers can branch with
// errors.Is / KindOf instead of string matching.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a Kind-tagged error for the named operation.
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind of err, walking the wrap chain. Returns
// ("", false) if err (or anything it wraps) is not an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind anywhere in its wrap chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

var (
	// ErrChatNotFound is the cause SessionStore.AppendTurn wraps in its
	// KindChatDraining error when the chat is draining.
	ErrChatNotFound = errors.New("mcos: chat not found")
	// ErrProfileNotFound is returned when no profile exists for a user.
	ErrProfileNotFound = errors.New("mcos: profile not found")
	// ErrQueueFull is returned, wrapped as KindTransient, when the
	// background job queue is at capacity; Enqueue never blocks.
	ErrQueueFull = errors.New("mcos: job queue full")
)
