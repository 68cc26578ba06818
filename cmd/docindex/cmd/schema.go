package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/searchindex"
)

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create or update the index definition",
		Long: `Create the vector index, or update its definition, from the configured
name, embedding dimension and HNSW parameters. Running it again is safe.

Use --print to show the definition without touching the index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			if printOnly {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(searchindex.SchemaFromConfig(a.cfg))
			}

			schema, err := a.ensureSchema(cmd.Context())
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("Index %q is up to date", schema.Name)
			out.KeyValue("backend", a.cfg.Index.Backend)
			out.KeyValue("dimensions", schema.VectorDimensions())
			out.KeyValue("hnsw", formatHNSW(schema.Algorithm))
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the index definition as JSON and exit")

	return cmd
}
