package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vmlinuzx/llmc-sub012/internal/graph"
)

func newWhereUsedCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "where-used <symbol>",
		Short: "List callers and importers of a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.cleanup()

			api, err := e.api()
			if err != nil {
				return err
			}
			resp, err := api.WhereUsed(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return e.renderer.WhereUsed(resp)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum usage sites (default 50)")
	return cmd
}

func newLineageCmd() *cobra.Command {
	var direction string
	var depth int

	cmd := &cobra.Command{
		Use:   "lineage <symbol>",
		Short: "Walk the dependency graph from a symbol",
		Long: `Show what a symbol depends on (--direction upstream) or what depends
on it (--direction downstream, the default), up to --depth hops.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.cleanup()

			api, err := e.api()
			if err != nil {
				return err
			}
			resp, err := api.Lineage(cmd.Context(), args[0], graph.Direction(direction), depth)
			if err != nil {
				return err
			}
			return e.renderer.Lineage(resp)
		},
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", string(graph.Downstream), "upstream or downstream")
	cmd.Flags().IntVar(&depth, "depth", 1, "hop limit")
	return cmd
}
