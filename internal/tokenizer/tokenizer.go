// Package tokenizer counts BPE tokens the way the embedding model sees them.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// DefaultEncoding is the encoding used by the ada-002 embedding family.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in a string. Implementations must be
// deterministic and safe for concurrent use.
type Counter interface {
	Count(text string) int
}

// CountFunc adapts a function to Counter.
type CountFunc func(text string) int

// Count implements Counter.
func (f CountFunc) Count(text string) int { return f(text) }

var loaderOnce sync.Once

// BPE counts tokens with a tiktoken encoding. Vocabularies are embedded in
// the binary, so no network access happens at runtime.
type BPE struct {
	encoding string

	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewBPE loads the named encoding. An empty name selects DefaultEncoding.
func NewBPE(encoding string) (*BPE, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, dierrors.ConfigError(fmt.Sprintf("unknown token encoding %q", encoding), err)
	}
	return &BPE{encoding: encoding, enc: enc}, nil
}

// Count returns the number of BPE tokens in text.
func (b *BPE) Count(text string) int {
	if text == "" {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.enc.Encode(text, nil, nil))
}

// Encoding returns the encoding name.
func (b *BPE) Encoding() string {
	return b.encoding
}
