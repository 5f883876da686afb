package cmd

import (
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the index lifecycle state and freshness",
		Args:  cobra.NoArgs,
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
			resp, err := api.IndexStatus(cmd.Context())
			if err != nil {
				return err
			}
			return e.renderer.Status(resp)
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index-wide counters",
		Args:  cobra.NoArgs,
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
			stats, err := api.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return e.renderer.Stats(stats)
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the health snapshot with pending work",
		Args:  cobra.NoArgs,
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
			h, err := api.Health(cmd.Context())
			if err != nil {
				return err
			}
			return e.renderer.Health(h)
		},
	}
}
