package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vmlinuzx/llmc-sub012/internal/mcp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API as MCP tools over stdio",
		Long: `Expose search, where_used, lineage, stats, health, and index_status
as Model Context Protocol tools so coding agents can query the index.
Run the daemon separately to keep the index fresh while serving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.cleanup()

			api, err := e.api()
			if err != nil {
				return err
			}
			return mcp.NewServer(api, Version).Serve(cmd.Context())
		},
	}
}
