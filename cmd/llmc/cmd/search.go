package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/vmlinuzx/llmc-sub012/internal/query"
)

type searchOptions struct {
	limit   int
	hint    string
	explain bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed repository",
		Long: `Hybrid search over the index: lexical matching, semantic similarity,
and call-graph proximity fused into one ranking. The query is routed
to the code or docs index automatically; --hint overrides.

Examples:
  llmc search "where is password hashing done"
  llmc search "invoice posting rules" --hint docs
  llmc search "retry backoff" --limit 5 --explain`,
		Args: cobra.MinimumNArgs(1),
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
			resp, err := api.Search(cmd.Context(), query.SearchRequest{
				Query:   strings.Join(args, " "),
				Hint:    opts.hint,
				Limit:   opts.limit,
				Explain: opts.explain,
			})
			if err != nil {
				return err
			}
			return e.renderer.Search(resp)
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "maximum results (default 20)")
	cmd.Flags().StringVar(&opts.hint, "hint", "", "force the code or docs index")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "include the routing decision in the output")
	return cmd
}
