package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/ingest"
	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/source"
)

type ingestOptions struct {
	watch  bool
	dir    string
	format string
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var ingOpts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, embed and index the source documents",
		Long: `Read every eligible document under the source directory, split it into
chunks, embed each chunk and upsert the records into the index.

Documents are processed concurrently. A document that fails is reported and
the run continues; configuration, authorization and schema errors stop it.

With --watch the command keeps running and re-ingests files as they change.

Examples:
  docindex ingest
  docindex ingest --dir ./handbook --watch
  docindex ingest --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd.Context(), cmd, opts, ingOpts)
		},
	}

	cmd.Flags().BoolVarP(&ingOpts.watch, "watch", "w", false, "Keep running and re-ingest changed files")
	cmd.Flags().StringVar(&ingOpts.dir, "dir", "", "Source directory (overrides source.dir)")
	cmd.Flags().StringVarP(&ingOpts.format, "format", "f", "text", "Summary format: text, json")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, opts *rootOptions, ingOpts ingestOptions) error {
	if ingOpts.format != "text" && ingOpts.format != "json" {
		return dierrors.ValidationError(fmt.Sprintf("unknown format %q (use text or json)", ingOpts.format), nil)
	}

	a, err := newApp(opts, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()
	if ingOpts.dir != "" {
		a.cfg.Source.Dir = ingOpts.dir
	}

	src, err := a.source()
	if err != nil {
		return err
	}
	if _, err := a.ensureSchema(ctx); err != nil {
		return err
	}
	pipeline, err := a.pipeline(ctx)
	if err != nil {
		return err
	}

	docs, err := src.Documents(ctx)
	if err != nil {
		return err
	}
	sum, runErr := pipeline.Run(ctx, docs)
	if err := report(cmd, ingOpts.format, sum); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	if !ingOpts.watch {
		if len(sum.Failed) > 0 {
			return dierrors.New(dierrors.ErrCodeIngestionFailed,
				fmt.Sprintf("%d of %d documents failed", len(sum.Failed), len(docs)), nil)
		}
		return nil
	}
	return watchAndIngest(ctx, cmd, a, src, pipeline, ingOpts.format)
}

func report(cmd *cobra.Command, format string, sum *ingest.Summary) error {
	if sum == nil {
		return nil
	}
	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), sum)
	}
	renderSummary(output.New(cmd.OutOrStdout()), sum)
	return nil
}

// watchAndIngest re-ingests changed files and removes the records of
// deleted ones until ctx is done. Per-batch failures are reported and the
// watch continues; fatal errors end it.
func watchAndIngest(ctx context.Context, cmd *cobra.Command, a *app, src *source.Filesystem, pipeline *ingest.Pipeline, format string) error {
	w, err := src.Watch(ctx, a.cfg.WatchDebounce())
	if err != nil {
		return err
	}
	out := output.New(cmd.ErrOrStderr())
	out.Statusf("*", "Watching %s for changes (Ctrl+C to stop)", src.Root())

	for batch := range w.Changes() {
		var (
			docs    []source.Document
			removed []string
		)
		for _, ch := range batch {
			if ch.Kind == source.Removed {
				removed = append(removed, source.DocumentID(ch.Path))
				continue
			}
			doc, err := src.Document(ch.Path)
			if err != nil {
				a.logger.Warn("watch_document_unreadable", dierrors.LogAttrs(err)...)
				continue
			}
			docs = append(docs, doc)
		}

		if len(removed) > 0 {
			slices.Sort(removed)
			n, err := pipeline.RemoveDocuments(ctx, removed)
			if err != nil {
				if dierrors.IsFatal(err) || ctx.Err() != nil {
					return err
				}
				a.logger.Error("watch_remove_failed", dierrors.LogAttrs(err)...)
			} else {
				out.Statusf("-", "Removed %d records of %d deleted documents", n, len(removed))
			}
		}

		if len(docs) == 0 {
			continue
		}
		sum, err := pipeline.Run(ctx, docs)
		if rerr := report(cmd, format, sum); rerr != nil {
			return rerr
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		a.logger.Info("watch_batch_ingested",
			slog.Int("documents", len(docs)),
			slog.Int("failed", len(sum.Failed)))
	}
	return nil
}
