package layers

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator converts content into an estimated token count for budget
// decisions during retrieval.
type Estimator interface {
	// Estimate returns the estimated token count of text.
	Estimate(text string) int
}

// HeuristicEstimator estimates roughly four characters per token using
// integer division. It is the default: cheap, deterministic, and the
// budget arithmetic callers rely on is exact under it.
type HeuristicEstimator struct{}

// Estimate returns len(text)/4.
func (HeuristicEstimator) Estimate(text string) int {
	return len(text) / 4
}

// TiktokenEstimator counts tokens with a real BPE encoding for callers
// that need budgets aligned with an actual model tokenizer. The encoding
// is loaded lazily on first use; if loading fails (the encoding tables
// are fetched on demand), it falls back to the heuristic so retrieval
// never breaks on a missing tokenizer.
type TiktokenEstimator struct {
	// Encoding names the tiktoken encoding. Defaults to "cl100k_base".
	Encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktokenEstimator creates an estimator for the given encoding name.
// An empty name selects "cl100k_base".
func NewTiktokenEstimator(encoding string) *TiktokenEstimator {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenEstimator{Encoding: encoding}
}

// Estimate returns the BPE token count of text, or the heuristic
// estimate if the encoding could not be loaded.
func (t *TiktokenEstimator) Estimate(text string) int {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(t.Encoding)
		if t.err != nil {
			t.err = fmt.Errorf("failed to load tiktoken encoding %s: %w", t.Encoding, t.err)
		}
	})
	if t.err != nil || t.enc == nil {
		return HeuristicEstimator{}.Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}
