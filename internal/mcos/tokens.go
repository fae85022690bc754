package mcos

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// TokenEstimator approximates the token cost of a piece of text. Every
// budgeting decision in ContextAssembler goes through this interface so the
// mandated 4-chars-per-token heuristic and a precise tokenizer are
// interchangeable.
type TokenEstimator interface {
	Estimate(text string) int
}

// HeuristicEstimator implements the specification's mandated fallback:
// roughly 4 characters per token, rounded up, with a floor of 1 for any
// non-empty text.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// TiktokenEstimator wraps pkoukk/tiktoken-go's cl100k_base encoding for a
// precise token count. It falls back to HeuristicEstimator if the encoding
// fails to load (e.g. no network access to fetch the BPE ranks file in an
// offline environment).
type TiktokenEstimator struct {
	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback HeuristicEstimator
}

func NewTiktokenEstimator() *TiktokenEstimator {
	return &TiktokenEstimator{}
}

func (t *TiktokenEstimator) Estimate(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc == nil {
		return t.fallback.Estimate(text)
	}
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenEstimator selects an estimator by config name ("heuristic" or
// "tiktoken"), defaulting to the heuristic for any unrecognized value.
func NewTokenEstimator(name string) TokenEstimator {
	if name == "tiktoken" {
		return NewTiktokenEstimator()
	}
	return HeuristicEstimator{}
}
