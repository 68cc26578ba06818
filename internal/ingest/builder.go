// Package ingest turns documents into indexed chunk records.
//
// A Pipeline run splits each document, embeds its chunks through a
// Builder and commits the resulting records as one batch through a
// Writer. Documents fail independently; a fatal error (bad credentials,
// schema or dimension mismatch) stops the run once in-flight documents
// have finished.
package ingest

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docindex/internal/chunk"
	"github.com/Aman-CERP/docindex/internal/embed"
	dierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/searchindex"
)

// ChunkFailurePolicy decides what an embedding failure does to its document.
type ChunkFailurePolicy string

const (
	// FailDocument abandons the whole document.
	FailDocument ChunkFailurePolicy = "fail-document"
	// SkipChunk drops the failed chunk and keeps the others.
	SkipChunk ChunkFailurePolicy = "skip-chunk"
)

// DefaultEmbedConcurrency bounds the embedding calls of one document.
const DefaultEmbedConcurrency = 4

// Metadata describes the document the chunks came from.
type Metadata struct {
	DocumentID   string
	Name         string
	WebURL       string
	LastModified time.Time
}

// BuildResult holds the records of one document, in sequence order.
type BuildResult struct {
	Records []searchindex.Record
	// Skipped lists the sequences dropped under SkipChunk.
	Skipped []int
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	Embedder    embed.Embedder
	Concurrency int
	Policy      ChunkFailurePolicy
	Logger      *slog.Logger
}

// Builder assembles chunk records, embedding chunks concurrently.
type Builder struct {
	embedder    embed.Embedder
	concurrency int
	policy      ChunkFailurePolicy
	logger      *slog.Logger
}

// NewBuilder applies defaults to cfg.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultEmbedConcurrency
	}
	if cfg.Policy == "" {
		cfg.Policy = FailDocument
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{
		embedder:    cfg.Embedder,
		concurrency: cfg.Concurrency,
		policy:      cfg.Policy,
		logger:      cfg.Logger,
	}
}

// Build embeds chunks and returns their records. Sequences come from the
// chunks, so the output is the same whatever order the embeddings finish in.
func (b *Builder) Build(ctx context.Context, chunks []chunk.Chunk, meta Metadata, groupIDs []string) (BuildResult, error) {
	if len(chunks) == 0 {
		return BuildResult{}, nil
	}

	vectors := make([][]float32, len(chunks))
	failures := make([]error, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			vec, err := b.embedder.Embed(gctx, c.Text)
			if err == nil {
				vectors[i] = vec
				return nil
			}
			if b.policy == SkipChunk && !dierrors.IsFatal(err) && ctx.Err() == nil {
				failures[i] = err
				return nil
			}
			return dierrors.IngestionFailed(meta.DocumentID, meta.Name, c.Sequence, err)
		})
	}
	if err := g.Wait(); err != nil {
		return BuildResult{}, err
	}

	lastUpdated := ""
	if !meta.LastModified.IsZero() {
		lastUpdated = meta.LastModified.UTC().Format(time.RFC3339)
	}

	var result BuildResult
	for i, c := range chunks {
		if failures[i] != nil {
			result.Skipped = append(result.Skipped, c.Sequence)
			b.logger.Warn("chunk_skipped", append([]any{
				slog.String("document_id", meta.DocumentID),
				slog.Int("chunk_sequence", c.Sequence),
			}, dierrors.LogAttrs(failures[i])...)...)
			continue
		}
		result.Records = append(result.Records, searchindex.Record{
			ID:            c.ID(),
			Content:       c.Text,
			ContentVector: vectors[i],
			Title:         meta.Name,
			Filepath:      meta.Name,
			URL:           meta.WebURL,
			ChunkID:       strconv.Itoa(c.Sequence),
			LastUpdated:   lastUpdated,
			GroupIDs:      slices.Clone(groupIDs),
			TokenSize:     c.TokenCount,
		})
	}

	if len(result.Records) == 0 {
		first := slices.IndexFunc(failures, func(err error) bool { return err != nil })
		return BuildResult{}, dierrors.IngestionFailed(meta.DocumentID, meta.Name, chunks[first].Sequence, failures[first]).
			WithDetail("reason", "every chunk failed to embed")
	}
	return result, nil
}
