package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// StaticEmbedder derives vectors from hashed words and character trigrams.
// It needs no network and is deterministic, which makes it the offline
// provider for development and tests. Texts sharing vocabulary land close
// together; there is no deeper semantics.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// Feature weights.
const (
	wordWeight    = 0.7
	trigramWeight = 0.3
	trigramSize   = 3
)

var englishStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "with": true,
}

// NewStaticEmbedder creates a static embedder producing dims-sized vectors.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = DefaultAzureDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed returns the unit-length feature vector of text. Only blank text
// maps to the zero vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, dierrors.InternalError("embedder is closed", nil)
	}

	vector := make([]float32, e.dims)
	words := words(text)
	var features int
	for _, w := range words {
		if !englishStopWords[w] {
			vector[bucket(w, e.dims)] += wordWeight
			features++
		}
	}
	joined := strings.Join(words, "")
	for i := 0; i+trigramSize <= len(joined); i++ {
		vector[bucket(joined[i:i+trigramSize], e.dims)] += trigramWeight
		features++
	}

	// Punctuation-only text and lone stop words still get a direction of
	// their own; only blank text stays at the origin.
	if features == 0 {
		for _, f := range strings.Fields(strings.ToLower(text)) {
			vector[bucket(f, e.dims)] += wordWeight
		}
	}

	return normalizeVector(vector), nil
}

// words lowercases text and splits it into letter/digit runs.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func bucket(s string, size int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
