package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/source"
)

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	var byDocument bool

	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete records from the index",
		Long: `Delete records by chunk record id ("{document}-{sequence}").

With --document the arguments are source paths relative to the source
directory and every record of each document is deleted. Ids that are not
in the index are ignored.

Examples:
  docindex delete 3f2a9c0d1e4b5a6978c0d1e2f3a4b5c6-2
  docindex delete --document handbook/leave.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), cmd, opts, args, byDocument)
		},
	}

	cmd.Flags().BoolVarP(&byDocument, "document", "d", false, "Treat arguments as document paths")

	return cmd
}

func runDelete(ctx context.Context, cmd *cobra.Command, opts *rootOptions, args []string, byDocument bool) error {
	a, err := newApp(opts, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	p, err := a.maintenance(ctx)
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	if byDocument {
		ids := make([]string, 0, len(args))
		for _, rel := range args {
			ids = append(ids, source.DocumentID(rel))
		}
		n, err := p.RemoveDocuments(ctx, ids)
		if err != nil {
			return err
		}
		out.Successf("Deleted %d records of %d documents", n, len(ids))
		return nil
	}

	idx, err := a.openIndex(ctx)
	if err != nil {
		return err
	}
	if err := idx.Delete(ctx, args); err != nil {
		return err
	}
	a.logger.Info("records_deleted", slog.Int("records", len(args)))
	out.Successf("Deleted %d records", len(args))
	return nil
}

func newPurgeCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every record in the index",
		Long: `Delete every record in the index. The index definition is kept.

Requires --yes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return dierrors.ValidationError("purge deletes every record in the index", nil).
					WithSuggestion("rerun with --yes to confirm")
			}

			a, err := newApp(opts, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			p, err := a.maintenance(cmd.Context())
			if err != nil {
				return err
			}
			n, err := p.Purge(cmd.Context())
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Purged %d records from %q", n, a.cfg.Index.Name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deleting every record")

	return cmd
}
