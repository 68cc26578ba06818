// Package chunk splits document text into token-bounded chunks.
//
// Splitting runs in two greedy phases. Phase A packs sentence-sized units
// into lines of at most MaxTokensPerLine tokens. Phase B packs those lines
// into paragraphs of at most MaxTokensPerParagraph tokens, optionally
// seeding each paragraph with the tail of the previous one. Paragraphs are
// the chunks that get embedded and indexed.
package chunk

import (
	"fmt"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// Budget defaults used by the production index.
const (
	DefaultMaxTokensPerLine      = 300
	DefaultMaxTokensPerParagraph = 4000
	DefaultOverlapTokens         = 0
)

// Chunk is one paragraph of a source document.
type Chunk struct {
	SourceDocumentID string
	Sequence         int // 1-based, fixed before any embedding call
	Text             string
	TokenCount       int
}

// ID returns the record id "{document}-{sequence}".
func (c Chunk) ID() string {
	return RecordID(c.SourceDocumentID, c.Sequence)
}

// RecordID formats the id of chunk seq of document docID.
func RecordID(docID string, seq int) string {
	return fmt.Sprintf("%s-%d", docID, seq)
}

// Options holds the token budgets.
type Options struct {
	MaxTokensPerLine      int
	MaxTokensPerParagraph int
	OverlapTokens         int
}

// DefaultOptions returns the production budgets.
func DefaultOptions() Options {
	return Options{
		MaxTokensPerLine:      DefaultMaxTokensPerLine,
		MaxTokensPerParagraph: DefaultMaxTokensPerParagraph,
		OverlapTokens:         DefaultOverlapTokens,
	}
}

// Validate rejects budgets the splitter cannot honour.
func (o Options) Validate() error {
	switch {
	case o.MaxTokensPerLine <= 0:
		return budgetError("max tokens per line must be positive", o)
	case o.MaxTokensPerParagraph <= 0:
		return budgetError("max tokens per paragraph must be positive", o)
	case o.OverlapTokens < 0:
		return budgetError("overlap tokens must not be negative", o)
	case o.OverlapTokens >= o.MaxTokensPerParagraph:
		return budgetError("overlap tokens must be smaller than the paragraph budget", o)
	}
	return nil
}

func budgetError(msg string, o Options) error {
	return dierrors.New(dierrors.ErrCodeInvalidTokenBudget, msg, nil).
		WithDetail("max_tokens_per_line", fmt.Sprint(o.MaxTokensPerLine)).
		WithDetail("max_tokens_per_paragraph", fmt.Sprint(o.MaxTokensPerParagraph)).
		WithDetail("overlap_tokens", fmt.Sprint(o.OverlapTokens))
}
