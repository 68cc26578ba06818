package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/searchindex"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	top    int
	groups []string
	format string // "text", "json"
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var so searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long: `Embed the query and return the closest chunks.

Without --group the search is unfiltered and sees every record. With one or
more --group flags only records sharing a group with the caller, or carrying
the configured public group, are returned.

Examples:
  docindex search "how many vacation days do I get"
  docindex search "expense policy" --group finance --group staff
  docindex search "onboarding" --top 10 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var groups searchindex.GroupFilter
			if cmd.Flags().Changed("group") {
				groups = searchindex.GroupFilter{}
				for _, g := range so.groups {
					if g = strings.TrimSpace(g); g != "" {
						groups = append(groups, g)
					}
				}
			}
			return runSearch(cmd.Context(), cmd, opts, strings.Join(args, " "), groups, so)
		},
	}

	cmd.Flags().IntVarP(&so.top, "top", "n", 0, "Maximum number of results (default: query.top_k)")
	cmd.Flags().StringArrayVarP(&so.groups, "group", "g", nil, "Caller access group (repeatable)")
	cmd.Flags().StringVarP(&so.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, opts *rootOptions, text string, groups searchindex.GroupFilter, so searchOptions) error {
	if so.format != "text" && so.format != "json" {
		return dierrors.ValidationError(fmt.Sprintf("unknown format %q (use text or json)", so.format), nil)
	}

	a, err := newApp(opts, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	engine, err := a.engine(ctx)
	if err != nil {
		return err
	}

	top := so.top
	if top <= 0 {
		top = a.cfg.Query.TopK
	}
	a.logger.Info("search_started", slog.Int("top", top), slog.Int("groups", len(groups)))

	results, err := engine.Search(ctx, text, top, groups)
	if err != nil {
		return err
	}

	if so.format == "json" {
		return writeJSON(cmd.OutOrStdout(), toResultJSON(results))
	}
	renderResults(output.New(cmd.OutOrStdout()), text, results)
	return nil
}
