// Package query answers similarity searches over the chunk index.
package query

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/Aman-CERP/docindex/internal/embed"
	dierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/searchindex"
	"github.com/Aman-CERP/docindex/internal/telemetry"
)

// DefaultTopK is used when a caller passes a non-positive topK.
const DefaultTopK = 5

// Recorder receives one event per answered query.
type Recorder interface {
	Record(event telemetry.QueryEvent)
}

// Config wires an Engine.
type Config struct {
	Embedder embed.Embedder
	Index    searchindex.Service
	// PublicGroup is added to every group-filtered query. Empty disables it.
	PublicGroup string
	// Recorder is optional.
	Recorder Recorder
	Logger   *slog.Logger
}

// Engine embeds query text and runs filtered k-NN retrieval.
type Engine struct {
	embedder    embed.Embedder
	index       searchindex.Service
	publicGroup string
	recorder    Recorder
	logger      *slog.Logger
}

// NewEngine returns an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		embedder:    cfg.Embedder,
		index:       cfg.Index,
		publicGroup: cfg.PublicGroup,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
	}
}

// Search returns at most topK results for text, best first, ties broken by
// record id. A nil groups filter is unfiltered; otherwise results must share
// a group with groups or carry the public group. Records without groups are
// only visible to unfiltered searches.
func (e *Engine) Search(ctx context.Context, text string, topK int, groups searchindex.GroupFilter) ([]searchindex.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, dierrors.New(dierrors.ErrCodeQueryEmpty, "query text is empty", nil)
	}
	if !hasWord(text) {
		return nil, dierrors.New(dierrors.ErrCodeQueryEmpty, "query has no letters or digits", nil).
			WithSuggestion("search for words that appear in the documents")
	}
	if err := searchindex.ValidateGroups(groups); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	start := time.Now()

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	filter := e.effectiveFilter(groups)
	results, err := e.index.Search(ctx, searchindex.SearchRequest{
		Vector: vec,
		TopK:   topK,
		Groups: filter,
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(results, func(a, b searchindex.Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return strings.Compare(a.Record.ID, b.Record.ID)
		}
	})
	if len(results) > topK {
		results = results[:topK]
	}
	if results == nil {
		results = []searchindex.Result{}
	}

	elapsed := time.Since(start)
	if e.recorder != nil {
		scope := telemetry.ScopeUnfiltered
		if !filter.Unfiltered() {
			scope = telemetry.ScopeFiltered
		}
		e.recorder.Record(telemetry.QueryEvent{
			Query:       text,
			Scope:       scope,
			ResultCount: len(results),
			Latency:     elapsed,
			Timestamp:   start,
		})
	}

	e.logger.Debug("query_complete",
		slog.Int("top_k", topK),
		slog.Int("groups", len(filter)),
		slog.Bool("filtered", !filter.Unfiltered()),
		slog.Int("results", len(results)),
		slog.Duration("duration", elapsed))
	return results, nil
}

func (e *Engine) effectiveFilter(groups searchindex.GroupFilter) searchindex.GroupFilter {
	if groups.Unfiltered() {
		return nil
	}
	out := slices.Clone(groups)
	if out == nil {
		out = searchindex.GroupFilter{}
	}
	if e.publicGroup != "" && !slices.Contains(out, e.publicGroup) {
		out = append(out, e.publicGroup)
	}
	return out
}

func hasWord(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}
