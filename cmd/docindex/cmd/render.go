package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/searchindex"
)

// snippetRunes bounds the content shown per search result in text mode.
const snippetRunes = 300

func formatHNSW(h searchindex.HNSWConfig) string {
	return fmt.Sprintf("m=%d ef_construction=%d ef_search=%d metric=%s",
		h.M, h.EfConstruction, h.EfSearch, h.Metric)
}

func renderSummary(out *output.Writer, sum *ingest.Summary) {
	out.Header("Ingest summary")
	out.KeyValue("run", sum.RunID)
	out.KeyValue("documents", len(sum.Succeeded)+len(sum.Failed))
	out.KeyValue("records", sum.Records)
	if sum.Skipped > 0 {
		out.KeyValue("skipped chunks", sum.Skipped)
	}
	if sum.Pruned > 0 {
		out.KeyValue("pruned", sum.Pruned)
	}
	out.KeyValue("duration", sum.Duration.Round(time.Millisecond))

	if len(sum.Failed) == 0 {
		out.Successf("%d documents indexed", len(sum.Succeeded))
		return
	}
	out.Warningf("%d documents indexed, %d failed", len(sum.Succeeded), len(sum.Failed))
	for _, f := range sum.Failed {
		msg := fmt.Sprintf("%s: %s", f.DocumentName, f.Message)
		if f.ChunkSequence > 0 {
			msg = fmt.Sprintf("%s (chunk %d): %s", f.DocumentName, f.ChunkSequence, f.Message)
		}
		out.Error(msg)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resultJSON is the machine-readable form of one search hit.
type resultJSON struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	URL         string   `json:"url,omitempty"`
	ChunkID     string   `json:"chunk_id"`
	Score       float64  `json:"score"`
	GroupIDs    []string `json:"group_ids"`
	LastUpdated string   `json:"last_updated,omitempty"`
	Content     string   `json:"content"`
}

func toResultJSON(results []searchindex.Result) []resultJSON {
	out := make([]resultJSON, 0, len(results))
	for _, r := range results {
		groups := r.Record.GroupIDs
		if groups == nil {
			groups = []string{}
		}
		out = append(out, resultJSON{
			ID:          r.Record.ID,
			Title:       r.Record.Title,
			URL:         r.Record.URL,
			ChunkID:     r.Record.ChunkID,
			Score:       r.Score,
			GroupIDs:    groups,
			LastUpdated: r.Record.LastUpdated,
			Content:     r.Record.Content,
		})
	}
	return out
}

func renderResults(out *output.Writer, query string, results []searchindex.Result) {
	if len(results) == 0 {
		out.Warningf("No results for %q", query)
		return
	}
	out.Header(fmt.Sprintf("%d results for %q", len(results), query))
	for i, r := range results {
		rec := r.Record
		out.Newline()
		out.Statusf(fmt.Sprintf("%d.", i+1), "%s (chunk %s)  score %.3f", rec.Title, rec.ChunkID, r.Score)
		if rec.URL != "" {
			out.KeyValue("url", rec.URL)
		}
		if len(rec.GroupIDs) > 0 {
			out.KeyValue("groups", strings.Join(rec.GroupIDs, ", "))
		}
		out.Code(snippet(rec.Content))
	}
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= snippetRunes {
		return s
	}
	r := []rune(s)
	return string(r[:snippetRunes]) + "..."
}
