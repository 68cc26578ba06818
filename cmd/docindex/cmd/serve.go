package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/mcp"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search tool over MCP stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
search and index_status tools.

stdout carries protocol messages only. Logs go to the log file
(~/.docindex/logs/docindex.log unless --log-file is given).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			engine, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			srv, err := mcp.NewServer(mcp.Config{
				Engine: engine,
				Status: mcp.IndexStatusOutput{
					Index:       a.cfg.Index.Name,
					Backend:     a.cfg.Index.Backend,
					Model:       a.embedder.ModelName(),
					Dimensions:  a.embedder.Dimensions(),
					PublicGroup: a.cfg.Index.PublicGroup,
				},
				DefaultTop: a.cfg.Query.TopK,
				Stats:      a.stats(),
				Logger:     a.logger,
			})
			if err != nil {
				return err
			}
			return srv.Serve(cmd.Context(), "stdio")
		},
	}

	return cmd
}
