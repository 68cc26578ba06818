package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/docindex/internal/searchindex"
)

// FormatSearchResults formats search results as markdown.
func FormatSearchResults(query string, results []searchindex.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

func formatResult(sb *strings.Builder, num int, r searchindex.Result) {
	rec := r.Record
	title := rec.Title
	if title == "" {
		title = rec.ID
	}
	fmt.Fprintf(sb, "### %d. %s (chunk %s, score: %.2f)\n", num, title, rec.ChunkID, r.Score)
	if rec.URL != "" {
		fmt.Fprintf(sb, "**Source:** %s\n", rec.URL)
	}
	if len(rec.GroupIDs) > 0 {
		fmt.Fprintf(sb, "**Groups:** %s\n", strings.Join(rec.GroupIDs, ", "))
	}
	if rec.LastUpdated != "" {
		fmt.Fprintf(sb, "**Updated:** %s\n", rec.LastUpdated)
	}
	fmt.Fprintf(sb, "\n%s\n\n", strings.TrimSpace(rec.Content))
}
